package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
	"bulknotif/internal/httpserver"
	"bulknotif/internal/scheduler"
)

type stubTriggers struct{ fired []string }

func (s *stubTriggers) Triggers() []scheduler.TriggerInfo {
	return []scheduler.TriggerInfo{{Name: "weekly", Spec: "0 9 * * MON", Kind: domain.KindWeekly}}
}

func (s *stubTriggers) Fire(ctx context.Context, name string) (campaign.Result, error) {
	s.fired = append(s.fired, name)
	return campaign.Result{CampaignID: "cmp_1", Status: domain.CampaignSent, Recipients: 1, Success: 1}, nil
}

func (s *stubTriggers) RunCustom(ctx context.Context, req scheduler.CustomRequest) (campaign.Result, error) {
	return campaign.Result{}, nil
}

func TestHandlerServesAdminAPIUnderV1(t *testing.T) {
	triggers := &stubTriggers{}
	srv := httptest.NewServer(newHandler(&httpserver.API{Triggers: triggers}, "tok",
		httpserver.ReadyzCheck{Name: "postgres", Check: func(context.Context) error { return nil }}))
	defer srv.Close()

	call := func(method, path, token string) int {
		req, err := http.NewRequest(method, srv.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/v1/triggers", "tok"))
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/v1/triggers/weekly/fire", "tok"))
	assert.Equal(t, []string{"weekly"}, triggers.fired)
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/v1/triggers", ""))
	assert.Equal(t, http.StatusNotFound, call(http.MethodGet, "/v1/v1/triggers", "tok"))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/readyz", ""))
}
