package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32

	// RetryDelay is the pause after a failed receive.
	RetryDelay time.Duration
}

type Handler func(ctx context.Context, ev StatusEvent) error

// PollConcurrent processes status events with a worker pool until ctx is canceled.
// Messages are deleted only after the handler succeeds; failures are left for
// SQS redrive. Undecodable bodies are deleted so they don't loop forever.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	retry := c.RetryDelay
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}

	jobs := make(chan types.Message, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	err := func() error {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("sqs receive status message failed", "err", err)
				select {
				case <-time.After(retry):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}()

	// Let workers finish whatever is already in `jobs`
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler Handler) {
	if m.Body == nil {
		c.delete(ctx, m)
		return
	}
	var ev StatusEvent
	if err := json.Unmarshal([]byte(*m.Body), &ev); err != nil {
		slog.Warn("dropping undecodable status message", "err", err)
		c.delete(ctx, m)
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("status handler error", "err", err, "provider", ev.Provider, "status", ev.Status, "provider_msg_id", ev.ProviderMsgID)
		return
	}
	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	_, err := c.SQS.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Warn("sqs delete message failed", "err", err)
	}
}
