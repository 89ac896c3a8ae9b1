package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.twilio.com"
	// SandboxFrom is Twilio's shared WhatsApp sandbox sender.
	SandboxFrom   = "whatsapp:+14155238886"
	addressPrefix = "whatsapp:"
)

var ErrInvalidCredentials = errors.New("twilio credentials invalid")

// Config is built once at process start and handed to NewClient.
type Config struct {
	AccountSID        string
	AuthToken         string
	From              string
	BaseURL           string
	StatusCallbackURL string
	Timeout           time.Duration
}

// Validate rejects configurations that must never reach the provider.
func (c Config) Validate() error {
	switch {
	case c.AccountSID == "":
		return fmt.Errorf("%w: TWILIO_ACCOUNT_SID is not set", ErrInvalidCredentials)
	case !strings.HasPrefix(c.AccountSID, "AC"):
		return fmt.Errorf("%w: TWILIO_ACCOUNT_SID must start with \"AC\" (got %q)", ErrInvalidCredentials, maskSID(c.AccountSID))
	case c.AuthToken == "":
		return fmt.Errorf("%w: TWILIO_AUTH_TOKEN is not set", ErrInvalidCredentials)
	case c.From == "":
		return fmt.Errorf("%w: TWILIO_WHATSAPP_FROM is not set", ErrInvalidCredentials)
	}
	return nil
}

// Sandbox reports whether messages go out through the shared sandbox number.
func (c Config) Sandbox() bool {
	return strings.Contains(c.From, strings.TrimPrefix(SandboxFrom, addressPrefix))
}

func maskSID(sid string) string {
	if len(sid) <= 6 {
		return sid
	}
	return sid[:6] + "..."
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.From = Address(cfg.From)
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

func (c *Client) Config() Config { return c.cfg }

// Address turns a phone number into a WhatsApp channel address.
func Address(phone string) string {
	if strings.HasPrefix(phone, addressPrefix) {
		return phone
	}
	return addressPrefix + phone
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

type Account struct {
	Sid          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// APIError is a non-2xx answer from the Twilio REST API.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: %s (code %d, http %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("twilio: %s (http %d)", e.Message, e.HTTPStatus)
}

// SendMessage posts one WhatsApp message. It returns the HTTP status alongside the
// decoded response so callers can label metrics; no retries are attempted here.
func (c *Client) SendMessage(ctx context.Context, to, body string) (SendResponse, int, error) {
	form := url.Values{}
	form.Set("To", Address(to))
	form.Set("From", c.cfg.From)
	form.Set("Body", body)
	if c.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", c.cfg.StatusCallbackURL)
	}

	endpoint := c.cfg.BaseURL + "/2010-04-01/Accounts/" + c.cfg.AccountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResponse{}, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out SendResponse
	status, err := c.do(req, &out)
	if err != nil {
		return out, status, err
	}
	if out.Sid == "" {
		return out, status, &APIError{HTTPStatus: status, Message: "response without message sid"}
	}
	return out, status, nil
}

// FetchAccount reads the configured account; used as a connectivity self-check.
func (c *Client) FetchAccount(ctx context.Context) (Account, error) {
	endpoint := c.cfg.BaseURL + "/2010-04-01/Accounts/" + c.cfg.AccountSID + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Account{}, err
	}
	var out Account
	_, err = c.do(req, &out)
	return out, err
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	// Twilio returns 201 for created; treat 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{HTTPStatus: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return resp.StatusCode, fmt.Errorf("twilio: decode response: %w", err)
	}
	return resp.StatusCode, nil
}
