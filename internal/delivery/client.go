package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"bulknotif/internal/domain"
	"bulknotif/internal/observability"
	"bulknotif/internal/providers/twilio"
)

var (
	// ErrMisconfigured wraps any credential problem found before the first send.
	ErrMisconfigured = errors.New("delivery client misconfigured")
	ErrSuppressed    = errors.New("delivery suppressed")
)

// Sender is the provider primitive the client wraps.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) (twilio.SendResponse, int, error)
	FetchAccount(ctx context.Context) (twilio.Account, error)
}

type Options struct {
	// BreakerFailures is the run of consecutive provider failures that opens the breaker; 0 disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	SendTimeout     time.Duration
}

type Client struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration

	mu             sync.RWMutex
	suppressReason string
}

func New(sender Sender, opts Options) *Client {
	c := &Client{sender: sender, timeout: opts.SendTimeout}
	if opts.BreakerFailures > 0 {
		cooldown := opts.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 20 * time.Second
		}
		threshold := opts.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "twilio",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= threshold },
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// NewTwilio validates cfg and builds a client over the Twilio REST API.
func NewTwilio(cfg twilio.Config, opts Options) (*Client, error) {
	tw, err := twilio.NewClient(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
	}
	return New(tw, opts), nil
}

// Send performs one delivery attempt. It never retries and never returns an error:
// every failure is folded into the outcome's error text.
func (c *Client) Send(ctx context.Context, address, body string) domain.Outcome {
	if reason, ok := c.Suppressed(); ok {
		observability.TwilioSend.WithLabelValues("suppressed", "0").Inc()
		return domain.Undelivered(fmt.Sprintf("%s: %s", ErrSuppressed, reason))
	}

	start := time.Now()
	res, err := c.execute(ctx, address, body)
	observability.TwilioLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.TwilioSend.WithLabelValues("cb_open", "0").Inc()
		return domain.Undelivered("provider circuit open: " + err.Error())
	}
	if err != nil {
		observability.TwilioSend.WithLabelValues("error", "0").Inc()
		return domain.Undelivered(err.Error())
	}
	if res.err != nil {
		observability.TwilioSend.WithLabelValues("rejected", strconv.Itoa(res.httpStatus)).Inc()
		return domain.Undelivered(res.err.Error())
	}
	observability.TwilioSend.WithLabelValues("ok", strconv.Itoa(res.httpStatus)).Inc()
	return domain.Delivered(res.resp.Sid)
}

type sendResult struct {
	resp       twilio.SendResponse
	httpStatus int
	// err holds a provider rejection that must not count against the breaker
	err error
}

func (c *Client) execute(ctx context.Context, address, body string) (sendResult, error) {
	call := func() (any, error) {
		reqCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, status, err := c.sender.SendMessage(reqCtx, address, body)
		if err != nil && !providerFault(err) {
			return sendResult{resp: resp, httpStatus: status, err: err}, nil
		}
		if err != nil {
			return nil, err
		}
		return sendResult{resp: resp, httpStatus: status}, nil
	}

	var (
		out any
		err error
	)
	if c.breaker == nil {
		out, err = call()
	} else {
		out, err = c.breaker.Execute(call)
	}
	if err != nil {
		return sendResult{}, err
	}
	return out.(sendResult), nil
}

// providerFault separates outages (network, 5xx, throttling) from per-message rejections.
func providerFault(err error) bool {
	var apiErr *twilio.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.HTTPStatus >= 500 || apiErr.HTTPStatus == http.StatusTooManyRequests ||
		apiErr.HTTPStatus == http.StatusUnauthorized
}

// SelfCheck verifies the provider is reachable with the configured credentials.
func (c *Client) SelfCheck(ctx context.Context) error {
	acct, err := c.sender.FetchAccount(ctx)
	if err != nil {
		return fmt.Errorf("provider self-check: %w", err)
	}
	if acct.Status != "" && acct.Status != "active" {
		return fmt.Errorf("provider self-check: account status %q", acct.Status)
	}
	return nil
}

// Suppress stops provider calls until Resume; sends keep producing failed outcomes.
func (c *Client) Suppress(reason string) {
	if reason == "" {
		reason = "suppressed"
	}
	c.mu.Lock()
	c.suppressReason = reason
	c.mu.Unlock()
	observability.DeliverySuppressed.Set(1)
}

func (c *Client) Resume() {
	c.mu.Lock()
	c.suppressReason = ""
	c.mu.Unlock()
	observability.DeliverySuppressed.Set(0)
}

func (c *Client) Suppressed() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suppressReason, c.suppressReason != ""
}

// BreakerState reports the circuit state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
