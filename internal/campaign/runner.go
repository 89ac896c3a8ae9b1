package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"bulknotif/internal/audit"
	"bulknotif/internal/domain"
	"bulknotif/internal/logging"
	"bulknotif/internal/observability"
	"bulknotif/internal/store"
	"bulknotif/internal/templates"
	"bulknotif/internal/throttle"
	"bulknotif/internal/util"
)

var ErrRecipientIneligible = errors.New("recipient is inactive or opted out")

type Store interface {
	CreateCampaign(ctx context.Context, in store.CampaignInsert) error
	FinalizeCampaign(ctx context.Context, in store.CampaignFinalize) error
}

type Recipients interface {
	Recipient(ctx context.Context, id string) (domain.Recipient, error)
	RecordDelivery(ctx context.Context, id string, counter domain.Counter, at time.Time) error
}

type Cohorts interface {
	Resolve(ctx context.Context, kind domain.Kind, audience domain.Audience) ([]domain.Recipient, error)
}

type Sender interface {
	Send(ctx context.Context, address, body string) domain.Outcome
}

type Auditor interface {
	Record(ctx context.Context, rec domain.DeliveryRecord)
	Flush(ctx context.Context) error
}

type Renderer interface {
	Plan(kind domain.Kind, customBody string) (*templates.Plan, error)
	TestPlan(index int) (*templates.Plan, error)
}

type Deps struct {
	Store      Store
	Recipients Recipients
	Cohorts    Cohorts
	Sender     Sender
	Audit      Auditor
	Templates  Renderer
	Clock      clockwork.Clock

	// Pacer returns a fresh limiter for each run; nil means no pacing.
	Pacer func() throttle.Pacer
}

type Runner struct {
	d Deps
}

func NewRunner(d Deps) *Runner {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Pacer == nil {
		d.Pacer = throttle.Sequence(0)
	}
	return &Runner{d: d}
}

type Request struct {
	Kind        domain.Kind
	Title       string
	Message     string
	Audience    domain.Audience
	TriggerName string
	CreatedBy   *string
}

type Result struct {
	CampaignID string                `json:"campaignId"`
	RunID      string                `json:"runId"`
	Status     domain.CampaignStatus `json:"status"`
	Recipients int                   `json:"recipients"`
	Success    int                   `json:"success"`
	Failed     int                   `json:"failed"`
}

// Run executes one campaign over a snapshot of its cohort. Once the campaign
// record exists the run ignores caller cancellation and goes to completion.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := Result{RunID: logging.NewRunID()}
	ctx = logging.WithRunID(ctx, res.RunID)

	if !req.Kind.CampaignKind() {
		return res, fmt.Errorf("%w: %q", domain.ErrInvalidKind, req.Kind)
	}
	req.Audience = req.Audience.Normalize()
	plan, err := r.d.Templates.Plan(req.Kind, req.Message)
	if err != nil {
		return res, err
	}

	cohort, err := r.d.Cohorts.Resolve(ctx, req.Kind, req.Audience)
	if err != nil {
		observability.CampaignRuns.WithLabelValues(string(req.Kind), "cohort_error").Inc()
		return res, err
	}

	start := r.d.Clock.Now()
	res.CampaignID = util.NewCampaignID()
	res.Recipients = len(cohort)
	insert := store.CampaignInsert{
		ID:             res.CampaignID,
		Title:          titleFor(req, start),
		Message:        req.Message,
		Kind:           req.Kind,
		Audience:       req.Audience,
		Status:         domain.CampaignPending,
		RecipientCount: len(cohort),
		TriggerName:    req.TriggerName,
		CreatedBy:      req.CreatedBy,
		Now:            start.UTC(),
	}

	if len(cohort) == 0 {
		done := start.UTC()
		insert.Status = domain.CampaignSent
		insert.CompletedAt = &done
		if err := r.d.Store.CreateCampaign(ctx, insert); err != nil {
			return res, fmt.Errorf("create campaign: %w", err)
		}
		res.Status = domain.CampaignSent
		observability.CampaignRuns.WithLabelValues(string(req.Kind), string(res.Status)).Inc()
		slog.InfoContext(ctx, "campaign finished with empty cohort", "campaign_id", res.CampaignID, "kind", req.Kind, "trigger", req.TriggerName)
		return res, nil
	}

	if err := r.d.Store.CreateCampaign(ctx, insert); err != nil {
		return res, fmt.Errorf("create campaign: %w", err)
	}
	slog.InfoContext(ctx, "campaign started",
		"campaign_id", res.CampaignID,
		"kind", req.Kind,
		"trigger", req.TriggerName,
		"recipients", len(cohort),
		"variant", plan.Variant,
	)

	campaignID := res.CampaignID
	pacer := r.d.Pacer()
	// a fresh pacer admits the first send at once and spaces every later one
	for _, rc := range cohort {
		if err := pacer.Wait(ctx); err != nil {
			slog.WarnContext(ctx, "delivery pacing failed", "err", err)
		}
		if r.deliver(ctx, plan, &campaignID, rc).OK {
			res.Success++
		} else {
			res.Failed++
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := r.d.Audit.Flush(flushCtx); err != nil {
		slog.WarnContext(ctx, "audit flush incomplete", "campaign_id", res.CampaignID, "err", err)
	}
	cancel()

	res.Status = domain.FinalStatus(res.Success, res.Failed)
	completed := r.d.Clock.Now()
	observability.CampaignRuns.WithLabelValues(string(req.Kind), string(res.Status)).Inc()
	observability.CampaignDuration.WithLabelValues(string(req.Kind)).Observe(completed.Sub(start).Seconds())

	if err := r.d.Store.FinalizeCampaign(ctx, store.CampaignFinalize{
		ID:           res.CampaignID,
		Status:       res.Status,
		SuccessCount: res.Success,
		FailedCount:  res.Failed,
		CompletedAt:  completed.UTC(),
	}); err != nil {
		slog.ErrorContext(ctx, "campaign finalize failed", "campaign_id", res.CampaignID, "err", err)
		return res, fmt.Errorf("finalize campaign %s: %w", res.CampaignID, err)
	}

	slog.InfoContext(ctx, "campaign finished",
		"campaign_id", res.CampaignID,
		"status", res.Status,
		"success", res.Success,
		"failed", res.Failed,
		"duration", completed.Sub(start),
	)
	return res, nil
}

// deliver runs render, send, audit and counter update for one recipient. It never panics.
func (r *Runner) deliver(ctx context.Context, plan *templates.Plan, campaignID *string, rc domain.Recipient) domain.Outcome {
	body, out := r.attempt(ctx, plan, rc)
	now := r.d.Clock.Now()

	r.d.Audit.Record(ctx, audit.NewRecord(rc, campaignID, plan.Kind, out, body, now))

	if !out.OK {
		observability.Deliveries.WithLabelValues(string(plan.Kind), "failed").Inc()
		slog.WarnContext(ctx, "delivery failed", "recipient_id", rc.ID, "err", out.Error)
		return out
	}
	observability.Deliveries.WithLabelValues(string(plan.Kind), "sent").Inc()

	if err := r.d.Recipients.RecordDelivery(ctx, rc.ID, domain.CounterFor(plan.Kind), now.UTC()); err != nil {
		observability.CounterUpdateFailures.Inc()
		slog.ErrorContext(ctx, "recipient counter update failed", "recipient_id", rc.ID, "kind", plan.Kind, "err", err)
	}
	return out
}

func (r *Runner) attempt(ctx context.Context, plan *templates.Plan, rc domain.Recipient) (body string, out domain.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = domain.Undelivered(fmt.Sprintf("panic during delivery: %v", p))
		}
	}()
	body = plan.Render(rc)
	out = r.d.Sender.Send(ctx, rc.Phone, body)
	return body, out
}

// SingleRequest is a send to one recipient outside any campaign.
type SingleRequest struct {
	RecipientID string
	Kind        domain.Kind
	Message     string
	// Variant pins a test message variant; nil draws one at random.
	Variant *int
}

type SingleResult struct {
	RecipientID string         `json:"recipientId"`
	Kind        domain.Kind    `json:"kind"`
	Outcome     domain.Outcome `json:"outcome"`
}

// SendOne delivers a welcome, test or custom message to a single recipient. The
// delivery record carries no campaign reference.
func (r *Runner) SendOne(ctx context.Context, req SingleRequest) (SingleResult, error) {
	ctx = context.WithoutCancel(ctx)
	res := SingleResult{RecipientID: req.RecipientID, Kind: req.Kind}

	var (
		plan *templates.Plan
		err  error
	)
	switch req.Kind {
	case domain.KindTest:
		if req.Variant != nil {
			plan, err = r.d.Templates.TestPlan(*req.Variant)
		} else {
			plan, err = r.d.Templates.Plan(domain.KindTest, "")
		}
	case domain.KindWelcome, domain.KindCustom:
		plan, err = r.d.Templates.Plan(req.Kind, req.Message)
	default:
		err = fmt.Errorf("%w: %q cannot be sent to a single recipient", domain.ErrInvalidKind, req.Kind)
	}
	if err != nil {
		return res, err
	}

	rc, err := r.d.Recipients.Recipient(ctx, req.RecipientID)
	if err != nil {
		return res, err
	}
	if !rc.Active || !rc.OptedIn {
		return res, ErrRecipientIneligible
	}

	res.Outcome = r.deliver(ctx, plan, nil, rc)
	if err := r.d.Audit.Flush(ctx); err != nil {
		slog.WarnContext(ctx, "audit flush incomplete", "recipient_id", rc.ID, "err", err)
	}
	return res, nil
}

func titleFor(req Request, at time.Time) string {
	if req.Title != "" {
		return req.Title
	}
	k := string(req.Kind)
	return fmt.Sprintf("%s%s message %s", strings.ToUpper(k[:1]), k[1:], at.UTC().Format("2006-01-02"))
}
