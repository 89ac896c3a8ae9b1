package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
	"bulknotif/internal/store"
)

type seenRequest struct {
	method, path, query, auth string
	body                      map[string]any
}

// fakeDispatcher records each request and answers with the canned response for its path.
type fakeDispatcher struct {
	mu        sync.Mutex
	seen      []seenRequest
	responses map[string]any
	status    int
}

func (f *fakeDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := seenRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &req.body)
	}
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, "trigger already running", f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.responses[r.URL.Path])
}

func (f *fakeDispatcher) requests() []seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seenRequest(nil), f.seen...)
}

func run(t *testing.T, f *fakeDispatcher, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--server", srv.URL, "--token", "secret"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestFireTrigger(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/triggers/weekly/fire": campaign.Result{CampaignID: "c1", Status: domain.CampaignSent, Recipients: 3, Success: 2, Failed: 1},
	}}

	out, err := run(t, f, "triggers", "fire", "weekly")
	require.NoError(t, err)
	require.Len(t, f.requests(), 1)
	assert.Equal(t, http.MethodPost, f.requests()[0].method)
	assert.Equal(t, "Bearer secret", f.requests()[0].auth)
	assert.Contains(t, out, "campaign c1 sent: 3 recipients, 2 sent, 1 failed")
}

func TestFireTriggerBusy(t *testing.T) {
	f := &fakeDispatcher{status: http.StatusConflict}

	_, err := run(t, f, "triggers", "fire", "weekly")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "trigger already running", apiErr.Message)
}

func TestCustomCampaignBody(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/campaigns/custom": campaign.Result{CampaignID: "c2", Status: domain.CampaignSent},
	}}

	_, err := run(t, f, "campaigns", "custom", "-m", "Hi {name}", "--target", "school", "--title", "Exams")
	require.NoError(t, err)
	require.Len(t, f.requests(), 1)
	body := f.requests()[0].body
	assert.Equal(t, "Hi {name}", body["message"])
	assert.Equal(t, "Exams", body["title"])
	assert.Equal(t, "school", body["audience"].(map[string]any)["target"])
}

func TestCustomCampaignRequiresMessage(t *testing.T) {
	f := &fakeDispatcher{}
	_, err := run(t, f, "campaigns", "custom", "--target", "all")
	require.Error(t, err)
	assert.Empty(t, f.requests())
}

func TestCampaignListQuery(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/campaigns": map[string]any{"campaigns": []domain.Campaign{{ID: "c1", Kind: domain.KindWeekly, Status: domain.CampaignSent, RecipientCount: 2, SuccessCount: 2}}},
	}}

	out, err := run(t, f, "campaigns", "list", "--kind", "weekly", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "kind=weekly&limit=5", f.requests()[0].query)
	assert.Contains(t, out, "2/0/2")
}

func TestTestMessageVariant(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/recipients/r1/test": campaign.SingleResult{RecipientID: "r1", Kind: domain.KindTest, Outcome: domain.Delivered("SM9")},
	}}

	out, err := run(t, f, "recipients", "test", "r1", "--variant", "2")
	require.NoError(t, err)
	assert.Equal(t, float64(2), f.requests()[0].body["variant"])
	assert.Contains(t, out, "test message to r1 sent (SM9)")
}

func TestTestMessageWithoutVariantSendsNoBody(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/recipients/r1/test": campaign.SingleResult{RecipientID: "r1", Kind: domain.KindTest, Outcome: domain.Undelivered("bad number")},
	}}

	out, err := run(t, f, "recipients", "test", "r1")
	require.NoError(t, err)
	assert.Nil(t, f.requests()[0].body)
	assert.Contains(t, out, "failed: bad number")
}

func TestStats(t *testing.T) {
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/stats": store.DeliveryStats{Sent: 10, Failed: 2, SentThisMonth: 4},
	}}

	out, err := run(t, f, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "sent: 10")
	assert.Contains(t, out, "sent this month: 4")
}

func TestExportRecords(t *testing.T) {
	delivered := time.Date(2025, 3, 1, 2, 31, 0, 0, time.UTC)
	campaignID := "c1"
	f := &fakeDispatcher{responses: map[string]any{
		"/v1/delivery-records": map[string]any{"records": []domain.DeliveryRecord{
			{ID: "d1", RecipientID: "r1", CampaignID: &campaignID, Phone: "+919876543210", Kind: domain.KindWeekly, Status: domain.DeliverySent, ProviderMessageID: "SM1", CreatedAt: delivered.Add(-time.Minute), DeliveredAt: &delivered},
			{ID: "d2", RecipientID: "r2", Phone: "+919876543211", Kind: domain.KindWelcome, Status: domain.DeliveryFailed, Error: "63016", CreatedAt: delivered},
		}},
	}}
	path := filepath.Join(t.TempDir(), "out.xlsx")

	out, err := run(t, f, "records", "export", "--campaign", "c1", "-o", path)
	require.NoError(t, err)
	assert.Equal(t, "campaignId=c1", f.requests()[0].query)
	assert.Contains(t, out, "wrote 2 records")

	xl, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer xl.Close()
	rows, err := xl.GetRows(recordsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, recordsHeader, rows[0])
	assert.Equal(t, "c1", rows[1][2])
	assert.Equal(t, "2025-03-01T02:31:00Z", rows[1][9])
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "63016", rows[2][7])
}
