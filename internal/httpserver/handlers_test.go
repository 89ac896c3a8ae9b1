package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
	"bulknotif/internal/scheduler"
	"bulknotif/internal/store"
	"bulknotif/internal/templates"
)

type fakeTriggers struct {
	fireErr   error
	fired     []string
	custom    []scheduler.CustomRequest
	customErr error
}

func (f *fakeTriggers) Triggers() []scheduler.TriggerInfo {
	return []scheduler.TriggerInfo{{Name: "weekly", Spec: "0 9 * * MON", Kind: domain.KindWeekly}}
}

func (f *fakeTriggers) Fire(ctx context.Context, name string) (campaign.Result, error) {
	f.fired = append(f.fired, name)
	if f.fireErr != nil {
		return campaign.Result{}, f.fireErr
	}
	return campaign.Result{CampaignID: "cmp_1", Status: domain.CampaignPartial, Recipients: 3, Success: 2, Failed: 1}, nil
}

func (f *fakeTriggers) RunCustom(ctx context.Context, req scheduler.CustomRequest) (campaign.Result, error) {
	f.custom = append(f.custom, req)
	if f.customErr != nil {
		return campaign.Result{}, f.customErr
	}
	return campaign.Result{CampaignID: "cmp_2", Status: domain.CampaignSent, Recipients: 1, Success: 1}, nil
}

type fakeSingles struct {
	reqs []campaign.SingleRequest
	err  error
}

func (f *fakeSingles) SendOne(ctx context.Context, req campaign.SingleRequest) (campaign.SingleResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return campaign.SingleResult{}, f.err
	}
	return campaign.SingleResult{RecipientID: req.RecipientID, Kind: req.Kind, Outcome: domain.Delivered("SM1")}, nil
}

type fakeStore struct {
	campaigns   []domain.Campaign
	campFilter  store.CampaignFilter
	recFilter   store.RecordFilter
	cutoff      time.Time
	monthStart  time.Time
	upserted    []domain.Recipient
	recipient   *domain.Recipient
	listErr     error
	statsResult store.DeliveryStats
}

func (f *fakeStore) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	for _, c := range f.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
}

func (f *fakeStore) ListCampaigns(ctx context.Context, filter store.CampaignFilter) ([]domain.Campaign, error) {
	f.campFilter = filter
	return f.campaigns, f.listErr
}

func (f *fakeStore) PendingCampaigns(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error) {
	f.cutoff = cutoff
	return []domain.Campaign{}, nil
}

func (f *fakeStore) ListDeliveryRecords(ctx context.Context, filter store.RecordFilter) ([]domain.DeliveryRecord, error) {
	f.recFilter = filter
	return []domain.DeliveryRecord{{ID: "dlv_1", Kind: domain.KindWeekly, Status: domain.DeliveryFailed}}, nil
}

func (f *fakeStore) DeliveryStats(ctx context.Context, monthStart time.Time) (store.DeliveryStats, error) {
	f.monthStart = monthStart
	return f.statsResult, nil
}

func (f *fakeStore) Recipient(ctx context.Context, id string) (domain.Recipient, error) {
	if f.recipient == nil {
		return domain.Recipient{}, domain.ErrNotFound
	}
	return *f.recipient, nil
}

func (f *fakeStore) UpsertRecipient(ctx context.Context, r domain.Recipient, now time.Time) error {
	f.upserted = append(f.upserted, r)
	return nil
}

type fakeProvider struct{}

func (fakeProvider) Suppressed() (string, bool) { return "401 authenticate", true }
func (fakeProvider) BreakerState() string       { return "closed" }

var now = time.Date(2025, time.March, 31, 20, 0, 0, 0, time.UTC)

type harness struct {
	router   http.Handler
	triggers *fakeTriggers
	singles  *fakeSingles
	store    *fakeStore
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	h := &harness{triggers: &fakeTriggers{}, singles: &fakeSingles{}, store: &fakeStore{}}
	api := &API{
		Triggers: h.triggers,
		Singles:  h.singles,
		Store:    h.store,
		Provider: fakeProvider{},
		Info:     ProviderInfo{Configured: true, SIDPrefix: true, From: "whatsapp:+14155238886", Sandbox: true},
		Clock:    clockwork.NewFakeClockAt(now),
		Location: ist,
	}
	h.router = Dispatcher(api, token).Mux
	return h
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuth(t *testing.T) {
	h := newHarness(t, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/triggers", "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/triggers", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/triggers", "", "Authorization", "Bearer s3cret").Code)

	open := newHarness(t, "")
	assert.Equal(t, http.StatusOK, open.do(http.MethodGet, "/v1/triggers", "").Code)
}

func TestDispatcherRoutes(t *testing.T) {
	h := newHarness(t, "s3cret")
	auth := []string{"Authorization", "Bearer s3cret"}

	rec := h.do(http.MethodGet, "/v1/triggers", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"weekly"`)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/triggers/weekly/fire", "", auth...).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/v1/triggers", "", auth...).Code)

	// probes stay reachable without the admin token
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "").Code)
}

func TestFireDuringShutdown(t *testing.T) {
	h := newHarness(t, "")
	h.triggers.fireErr = scheduler.ErrStopping
	rec := h.do(http.MethodPost, "/v1/triggers/weekly/fire", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrShuttingDown)
}

func TestFireTrigger(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(http.MethodPost, "/v1/triggers/weekly/fire", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res campaign.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"weekly"}, h.triggers.fired)

	h.triggers.fireErr = fmt.Errorf("%w: %q", scheduler.ErrTriggerBusy, "weekly")
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/v1/triggers/weekly/fire", "").Code)

	h.triggers.fireErr = fmt.Errorf("%w: %q", scheduler.ErrUnknownTrigger, "hourly")
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/triggers/hourly/fire", "").Code)

	h.triggers.fireErr = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, h.do(http.MethodPost, "/v1/triggers/weekly/fire", "").Code)
}

func TestCustomCampaign(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(http.MethodPost, "/v1/campaigns/custom", `{"message":"Hi {name}","audience":{"target":"college"},"createdBy":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.triggers.custom, 1)
	req := h.triggers.custom[0]
	assert.Equal(t, "Hi {name}", req.Message)
	assert.Equal(t, domain.InstitutionCollege, req.Audience.InstitutionType)
	require.NotNil(t, req.CreatedBy)
	assert.Equal(t, "admin", *req.CreatedBy)

	for _, body := range []string{
		`{"audience":{"target":"all"}}`,
		`{"message":"x","audience":{"target":"specific_institution"}}`,
		`{"message":"x","audience":{"target":"everyone"}}`,
		`not json`,
	} {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/campaigns/custom", body).Code, body)
	}
	assert.Len(t, h.triggers.custom, 1)

	h.triggers.customErr = fmt.Errorf("resolve cohort: %w", errors.New("db down"))
	assert.Equal(t, http.StatusBadGateway, h.do(http.MethodPost, "/v1/campaigns/custom", `{"message":"x"}`).Code)
}

func TestCampaignQueries(t *testing.T) {
	h := newHarness(t, "")
	h.store.campaigns = []domain.Campaign{{ID: "cmp_1", Kind: domain.KindWeekly, Status: domain.CampaignSent, RecipientCount: 2, SuccessCount: 2}}

	rec := h.do(http.MethodGet, "/v1/campaigns/cmp_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, 2, c.SuccessCount)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/campaigns/cmp_x", "").Code)

	rec = h.do(http.MethodGet, "/v1/campaigns?kind=weekly&status=sent&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.CampaignFilter{Kind: domain.KindWeekly, Status: domain.CampaignSent, Limit: 5, Offset: 10}, h.store.campFilter)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/campaigns?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/campaigns?offset=-1", "").Code)
}

func TestOrphansUseCutoff(t *testing.T) {
	h := newHarness(t, "")

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/campaigns/orphans", "").Code)
	assert.True(t, now.Add(-6*time.Hour).Equal(h.store.cutoff))

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/campaigns/orphans?olderThan=30m", "").Code)
	assert.True(t, now.Add(-30*time.Minute).Equal(h.store.cutoff))

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/campaigns/orphans?olderThan=soon", "").Code)
}

func TestDeliveryRecordFilters(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(http.MethodGet, "/v1/delivery-records?kind=weekly&status=failed&recipientId=r1&campaignId=cmp_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.RecordFilter{Kind: domain.KindWeekly, Status: domain.DeliveryFailed, RecipientID: "r1", CampaignID: "cmp_1"}, h.store.recFilter)
	assert.Contains(t, rec.Body.String(), `"dlv_1"`)
}

func TestUpsertRecipient(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(http.MethodPut, "/v1/recipients/r1", `{"name":" Asha ","phone":"+91 98765-43210","institutionType":"school","institutionId":"s1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, h.store.upserted, 1)
	r := h.store.upserted[0]
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "Asha", r.Name)
	assert.Equal(t, "+919876543210", r.Phone)
	assert.True(t, r.Active)
	assert.True(t, r.OptedIn)

	rec = h.do(http.MethodPut, "/v1/recipients/r1", `{"name":"Asha","phone":"+919876543210","optedIn":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, h.store.upserted[1].OptedIn)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/v1/recipients/r1", `{"name":"Asha","phone":"98765"}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/v1/recipients/r1", `{"phone":"+919876543210"}`).Code)
}

func TestSingleSends(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(http.MethodPost, "/v1/recipients/r1/welcome", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"providerId":"SM1"`)

	rec = h.do(http.MethodPost, "/v1/recipients/r1/test", `{"variant":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.singles.reqs, 2)
	assert.Equal(t, domain.KindWelcome, h.singles.reqs[0].Kind)
	assert.Equal(t, domain.KindTest, h.singles.reqs[1].Kind)
	require.NotNil(t, h.singles.reqs[1].Variant)
	assert.Equal(t, 3, *h.singles.reqs[1].Variant)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/recipients/r1/test", "").Code)
	assert.Nil(t, h.singles.reqs[2].Variant)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/recipients/r1/test", `{"variant":-2}`).Code)

	h.singles.err = campaign.ErrRecipientIneligible
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, "/v1/recipients/r1/welcome", "").Code)
	h.singles.err = fmt.Errorf("recipient r9: %w", domain.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/recipients/r9/welcome", "").Code)
	h.singles.err = templates.ErrVariantOutOfRange
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/recipients/r1/test", `{"variant":99}`).Code)
}

func TestProviderStatus(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(http.MethodGet, "/v1/provider", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["sidPrefixOk"])
	assert.Equal(t, true, got["sandbox"])
	assert.Equal(t, true, got["suppressed"])
	assert.Equal(t, "401 authenticate", got["suppressReason"])
	assert.Equal(t, "closed", got["breaker"])
}

func TestStatsUseLocalMonth(t *testing.T) {
	h := newHarness(t, "")
	h.store.statsResult = store.DeliveryStats{Sent: 10, Failed: 2, SentThisMonth: 4}

	rec := h.do(http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":10,"failed":2,"sentThisMonth":4}`, rec.Body.String())

	// 2025-03-31 20:00 UTC is already April 1st in India
	ist, _ := time.LoadLocation("Asia/Kolkata")
	assert.True(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, ist).Equal(h.store.monthStart), "got %s", h.store.monthStart)
}

func TestReadyz(t *testing.T) {
	up := ReadyzCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	ok := httptest.NewRecorder()
	Readyz(time.Second, up)(ok, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"postgres":"ok"}`, ok.Body.String())

	queue := ReadyzCheck{Name: "status_queue", Check: func(context.Context) error { return errors.New("sqs down") }}
	down := httptest.NewRecorder()
	Readyz(time.Second, up, queue)(down, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, down.Code)
	assert.JSONEq(t, `{"postgres":"ok","status_queue":"unavailable"}`, down.Body.String())
}
