package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// StatusEvent is the envelope for a provider status callback.
// Keep it small; SQS has a 256KB message size limit.
type StatusEvent struct {
	Provider      string            `json:"provider"`
	ProviderMsgID string            `json:"providerMsgId"`
	Status        string            `json:"status"`
	ErrorCode     string            `json:"errorCode,omitempty"`
	To            string            `json:"to,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
	ReceivedAt    time.Time         `json:"receivedAt"`
}

type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) Enqueue(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
