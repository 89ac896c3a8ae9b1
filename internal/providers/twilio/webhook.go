package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Signature computes the X-Twilio-Signature value for a form-encoded callback.
func Signature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		// status callbacks carry one value per key
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func VerifySignature(authToken, fullURL, provided string, form url.Values) bool {
	expected := Signature(authToken, fullURL, form)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// StatusCallback is the subset of a message status callback the dispatcher stores.
type StatusCallback struct {
	MessageSid    string            `json:"messageSid"`
	MessageStatus string            `json:"messageStatus"`
	ErrorCode     string            `json:"errorCode,omitempty"`
	To            string            `json:"to,omitempty"`
	Raw           map[string]string `json:"raw"`
	ReceivedAt    time.Time         `json:"receivedAt"`
}

// ParseStatusCallback extracts a StatusCallback from a verified form.
// It returns false when the form carries no message sid or status.
func ParseStatusCallback(form url.Values, now time.Time) (StatusCallback, bool) {
	cb := StatusCallback{
		MessageSid:    form.Get("MessageSid"),
		MessageStatus: strings.ToLower(form.Get("MessageStatus")),
		ErrorCode:     form.Get("ErrorCode"),
		To:            form.Get("To"),
		Raw:           make(map[string]string, len(form)),
		ReceivedAt:    now.UTC(),
	}
	if cb.MessageSid == "" || cb.MessageStatus == "" {
		return StatusCallback{}, false
	}
	for k := range form {
		cb.Raw[k] = form.Get(k)
	}
	return cb, true
}
