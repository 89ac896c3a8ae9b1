package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulknotif/internal/providers/twilio"
)

const (
	testSID   = "ACmock0000000000000000000000000000"
	testToken = "mock_token"
)

func testConfig(outcomes ...string) config {
	return config{
		AccountSID: testSID, AuthToken: testToken, AccountStatus: "active",
		OutcomeMode: "round_robin", Outcomes: outcomes,
		FailureWeights:  []weightedOutcome{{Kind: "failed", Weight: 1}},
		WebhookDelay:    time.Millisecond,
		WebhookRetryMax: 10 * time.Millisecond,
	}
}

func newMock(t *testing.T, cfg config) (*httptest.Server, *twilio.Client) {
	t.Helper()
	srv := httptest.NewServer(newServer(cfg, rand.New(rand.NewPCG(1, 2))).routes())
	t.Cleanup(srv.Close)
	client, err := twilio.NewClient(twilio.Config{
		AccountSID: testSID, AuthToken: testToken, From: "+14155238886", BaseURL: srv.URL,
	}, nil)
	require.NoError(t, err)
	return srv, client
}

func TestMockSpeaksTwilioClient(t *testing.T) {
	_, client := newMock(t, testConfig("ok", "bad_request", "429"))
	ctx := context.Background()

	resp, status, err := client.SendMessage(ctx, "+919876543210", "hello")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.Sid)

	_, status, err = client.SendMessage(ctx, "+919876543210", "hello")
	var apiErr *twilio.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 21211, apiErr.Code)

	_, status, err = client.SendMessage(ctx, "+919876543210", "hello")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, status)

	acct, err := client.FetchAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "active", acct.Status)
}

func TestMockRejectsWrongCredentials(t *testing.T) {
	srv, _ := newMock(t, testConfig("ok"))
	client, err := twilio.NewClient(twilio.Config{AccountSID: testSID, AuthToken: "wrong", From: "+1", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = client.FetchAccount(context.Background())
	var apiErr *twilio.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
}

func TestMockPostsSignedStatusCallbacks(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []string
		done     = make(chan struct{})
	)
	var hookURL string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !twilio.VerifySignature(testToken, hookURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		statuses = append(statuses, r.PostForm.Get("MessageStatus"))
		if r.PostForm.Get("MessageStatus") == "failed" {
			close(done)
		}
		mu.Unlock()
	}))
	defer hook.Close()
	hookURL = hook.URL

	cfg := testConfig("failed:63016")
	cfg.DefaultWebhookURL = hookURL
	_, client := newMock(t, cfg)

	_, _, err := client.SendMessage(context.Background(), "+919876543210", "hello")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no final status callback")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"queued", "failed"}, statuses)
}

func TestClassifyOutcome(t *testing.T) {
	assert.Equal(t, "delivered", classifyOutcome("").finalStatus)
	assert.Equal(t, 63016, classifyOutcome("undelivered").errorCode)
	assert.Equal(t, 30001, classifyOutcome("failed:30001").errorCode)
	assert.Equal(t, http.StatusUnauthorized, classifyOutcome("401").httpStatus)
	assert.ErrorIs(t, classifyOutcome("timeout").callErr, context.DeadlineExceeded)
}

func TestPickWeighted(t *testing.T) {
	items := []weightedOutcome{{Kind: "failed", Weight: 3}, {Kind: "429", Weight: 1}}
	assert.Equal(t, "failed", pickWeighted(0.5, items))
	assert.Equal(t, "429", pickWeighted(0.9, items))
	assert.Equal(t, "failed", pickWeighted(0.5, nil))
	assert.Len(t, parseWeightedOutcomes("failed:2, 429:1, bogus, x:-1"), 2)
}

func TestBackoffCaps(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, backoff(250*time.Millisecond, time.Second, 0))
	assert.Equal(t, time.Second, backoff(250*time.Millisecond, time.Second, 5))
}
