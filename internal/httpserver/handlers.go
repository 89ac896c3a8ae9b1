package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
	"bulknotif/internal/scheduler"
	"bulknotif/internal/store"
	"bulknotif/internal/util"
)

type Triggers interface {
	Triggers() []scheduler.TriggerInfo
	Fire(ctx context.Context, name string) (campaign.Result, error)
	RunCustom(ctx context.Context, req scheduler.CustomRequest) (campaign.Result, error)
}

type Singles interface {
	SendOne(ctx context.Context, req campaign.SingleRequest) (campaign.SingleResult, error)
}

type Store interface {
	Campaign(ctx context.Context, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, error)
	PendingCampaigns(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error)
	ListDeliveryRecords(ctx context.Context, f store.RecordFilter) ([]domain.DeliveryRecord, error)
	DeliveryStats(ctx context.Context, monthStart time.Time) (store.DeliveryStats, error)
	Recipient(ctx context.Context, id string) (domain.Recipient, error)
	UpsertRecipient(ctx context.Context, r domain.Recipient, now time.Time) error
}

// ProviderState is the live part of the provider status report.
type ProviderState interface {
	Suppressed() (string, bool)
	BreakerState() string
}

// ProviderInfo is the static part of the provider status report.
type ProviderInfo struct {
	Configured bool   `json:"configured"`
	SIDPrefix  bool   `json:"sidPrefixOk"`
	From       string `json:"from"`
	Sandbox    bool   `json:"sandbox"`
}

type API struct {
	Triggers Triggers
	Singles  Singles
	Store    Store
	Provider ProviderState
	Info     ProviderInfo

	Clock    clockwork.Clock
	Location *time.Location
	// OrphanAge is how long a campaign may stay pending before it is reported.
	OrphanAge time.Duration

	validate *validator.Validate
}

func (a *API) Register(r *mux.Router) {
	if a.validate == nil {
		a.validate = validator.New()
	}
	if a.Clock == nil {
		a.Clock = clockwork.NewRealClock()
	}
	if a.Location == nil {
		a.Location = time.UTC
	}
	if a.OrphanAge <= 0 {
		a.OrphanAge = 6 * time.Hour
	}

	r.HandleFunc("/v1/triggers", a.handleListTriggers).Methods(http.MethodGet)
	r.HandleFunc("/v1/triggers/{name}/fire", a.handleFireTrigger).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/custom", a.handleCustomCampaign).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/orphans", a.handleOrphans).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}", a.handleGetCampaign).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns", a.handleListCampaigns).Methods(http.MethodGet)
	r.HandleFunc("/v1/delivery-records", a.handleListRecords).Methods(http.MethodGet)
	r.HandleFunc("/v1/recipients/{id}", a.handleGetRecipient).Methods(http.MethodGet)
	r.HandleFunc("/v1/recipients/{id}", a.handleUpsertRecipient).Methods(http.MethodPut)
	r.HandleFunc("/v1/recipients/{id}/welcome", a.handleWelcome).Methods(http.MethodPost)
	r.HandleFunc("/v1/recipients/{id}/test", a.handleTest).Methods(http.MethodPost)
	r.HandleFunc("/v1/provider", a.handleProvider).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats", a.handleStats).Methods(http.MethodGet)
}

type audienceRequest struct {
	Target          string `json:"target" validate:"omitempty,oneof=all school college specific_institution"`
	InstitutionType string `json:"institutionType" validate:"omitempty,oneof=school college"`
	InstitutionID   string `json:"institutionId" validate:"required_if=Target specific_institution"`
}

func (a audienceRequest) audience() domain.Audience {
	return domain.Audience{
		Target:          domain.Target(a.Target),
		InstitutionType: domain.InstitutionType(a.InstitutionType),
		InstitutionID:   a.InstitutionID,
	}.Normalize()
}

type customCampaignRequest struct {
	Title     string          `json:"title" validate:"max=200"`
	Message   string          `json:"message" validate:"required,max=1600"`
	Audience  audienceRequest `json:"audience"`
	CreatedBy string          `json:"createdBy" validate:"max=200"`
}

type recipientRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	Phone           string `json:"phone" validate:"required,startswith=+,min=8,max=20"`
	Role            string `json:"role" validate:"omitempty,max=50"`
	Active          *bool  `json:"active"`
	OptedIn         *bool  `json:"optedIn"`
	InstitutionID   string `json:"institutionId" validate:"max=200"`
	InstitutionName string `json:"institutionName" validate:"max=200"`
	InstitutionType string `json:"institutionType" validate:"omitempty,oneof=school college"`
	ClassYear       string `json:"classYear" validate:"max=50"`
}

type testMessageRequest struct {
	Variant *int `json:"variant" validate:"omitempty,min=0"`
}

func (a *API) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"triggers": a.Triggers.Triggers()})
}

// handleFireTrigger runs the trigger synchronously. Per-recipient failures are
// reported in the counts and never fail the request.
func (a *API) handleFireTrigger(w http.ResponseWriter, r *http.Request) {
	res, err := a.Triggers.Fire(r.Context(), mux.Vars(r)["name"])
	if err != nil && res.CampaignID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCustomCampaign(w http.ResponseWriter, r *http.Request) {
	var req customCampaignRequest
	if !a.decode(w, r, &req) {
		return
	}
	var createdBy *string
	if req.CreatedBy != "" {
		createdBy = &req.CreatedBy
	}
	res, err := a.Triggers.RunCustom(r.Context(), scheduler.CustomRequest{
		Title:     req.Title,
		Message:   req.Message,
		Audience:  req.Audience.audience(),
		CreatedBy: createdBy,
	})
	if err != nil && res.CampaignID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	c, err := a.Store.Campaign(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := paging(q)
	if !ok {
		http.Error(w, ErrBadQuery, http.StatusBadRequest)
		return
	}
	out, err := a.Store.ListCampaigns(r.Context(), store.CampaignFilter{
		Kind:   domain.Kind(q.Get("kind")),
		Status: domain.CampaignStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

// handleOrphans lists campaigns that stayed pending past OrphanAge, which only
// happens when the dispatcher died mid-run.
func (a *API) handleOrphans(w http.ResponseWriter, r *http.Request) {
	age := a.OrphanAge
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, ErrBadQuery, http.StatusBadRequest)
			return
		}
		age = d
	}
	out, err := a.Store.PendingCampaigns(r.Context(), a.Clock.Now().Add(-age))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := paging(q)
	if !ok {
		http.Error(w, ErrBadQuery, http.StatusBadRequest)
		return
	}
	out, err := a.Store.ListDeliveryRecords(r.Context(), store.RecordFilter{
		Kind:        domain.Kind(q.Get("kind")),
		Status:      domain.DeliveryStatus(q.Get("status")),
		RecipientID: q.Get("recipientId"),
		CampaignID:  q.Get("campaignId"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (a *API) handleGetRecipient(w http.ResponseWriter, r *http.Request) {
	rc, err := a.Store.Recipient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// handleUpsertRecipient is the sync hook for the registration system.
func (a *API) handleUpsertRecipient(w http.ResponseWriter, r *http.Request) {
	var req recipientRequest
	if !a.decode(w, r, &req) {
		return
	}
	rc := domain.Recipient{
		ID:              mux.Vars(r)["id"],
		Name:            strings.TrimSpace(req.Name),
		Phone:           util.NormalizePhone(req.Phone),
		Role:            req.Role,
		Active:          req.Active == nil || *req.Active,
		OptedIn:         req.OptedIn == nil || *req.OptedIn,
		InstitutionID:   req.InstitutionID,
		InstitutionName: req.InstitutionName,
		InstitutionType: domain.InstitutionType(req.InstitutionType),
		ClassYear:       req.ClassYear,
	}
	if err := a.Store.UpsertRecipient(r.Context(), rc, a.Clock.Now().UTC()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWelcome(w http.ResponseWriter, r *http.Request) {
	a.sendOne(w, r, campaign.SingleRequest{RecipientID: mux.Vars(r)["id"], Kind: domain.KindWelcome})
}

func (a *API) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	a.sendOne(w, r, campaign.SingleRequest{RecipientID: mux.Vars(r)["id"], Kind: domain.KindTest, Variant: req.Variant})
}

func (a *API) sendOne(w http.ResponseWriter, r *http.Request, req campaign.SingleRequest) {
	res, err := a.Singles.SendOne(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleProvider(w http.ResponseWriter, r *http.Request) {
	type providerStatus struct {
		ProviderInfo
		Suppressed     bool   `json:"suppressed"`
		SuppressReason string `json:"suppressReason,omitempty"`
		Breaker        string `json:"breaker"`
	}
	out := providerStatus{ProviderInfo: a.Info}
	if a.Provider != nil {
		out.SuppressReason, out.Suppressed = a.Provider.Suppressed()
		out.Breaker = a.Provider.BreakerState()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	now := a.Clock.Now().In(a.Location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.Location)
	st, err := a.Store.DeliveryStats(r.Context(), monthStart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func paging(q url.Values) (limit, offset int, ok bool) {
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, false
		}
	}
	return limit, offset, true
}
