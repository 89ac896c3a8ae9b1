package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"bulknotif/internal/campaign"
	"bulknotif/internal/config"
	"bulknotif/internal/domain"
	"bulknotif/internal/observability"
)

var (
	ErrTriggerBusy    = errors.New("trigger is already running")
	ErrUnknownTrigger = errors.New("unknown trigger")
	ErrStopping       = errors.New("scheduler is stopping")
)

type Runner interface {
	Run(ctx context.Context, req campaign.Request) (campaign.Result, error)
}

// Provider is the delivery client's health surface.
type Provider interface {
	SelfCheck(ctx context.Context) error
	Suppress(reason string)
	Resume()
}

// Lease guards a trigger across replicas. A held lease is renewed for as long
// as the run lasts.
type Lease interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Renew(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

type Options struct {
	Location *time.Location
	Clock    clockwork.Clock

	// SelfCheck probes the provider on Start; a failure suppresses delivery.
	SelfCheck bool
	// SelfCheckInterval re-probes the provider and lifts or applies suppression.
	SelfCheckInterval time.Duration
	SelfCheckTimeout  time.Duration

	Lease Lease
	// LeaseRenewInterval must be well below the lease TTL.
	LeaseRenewInterval time.Duration
}

type trigger struct {
	def      config.TriggerDef
	schedule cron.Schedule

	mu sync.Mutex // held for the whole run; TryLock skips overlapping firings

	stateMu sync.Mutex
	running bool
	last    *LastRun
}

// LastRun summarizes the most recent completed firing of a trigger.
type LastRun struct {
	At         time.Time             `json:"at"`
	Source     string                `json:"source"`
	CampaignID string                `json:"campaignId,omitempty"`
	Status     domain.CampaignStatus `json:"status,omitempty"`
	Success    int                   `json:"success"`
	Failed     int                   `json:"failed"`
	Error      string                `json:"error,omitempty"`
}

type TriggerInfo struct {
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Kind     domain.Kind     `json:"kind"`
	Audience domain.Audience `json:"audience"`
	Next     time.Time       `json:"next"`
	Running  bool            `json:"running"`
	LastRun  *LastRun        `json:"lastRun,omitempty"`
}

type CustomRequest struct {
	Title     string
	Message   string
	Audience  domain.Audience
	CreatedBy *string
}

type Scheduler struct {
	runner   Runner
	provider Provider
	opts     Options
	cron     *cron.Cron

	triggers map[string]*trigger
	order    []string

	mu       sync.Mutex
	base     context.Context
	started  bool
	stopping bool
	inflight sync.WaitGroup
}

func New(runner Runner, provider Provider, defs []config.TriggerDef, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SelfCheckTimeout <= 0 {
		opts.SelfCheckTimeout = 10 * time.Second
	}
	if opts.LeaseRenewInterval <= 0 {
		opts.LeaseRenewInterval = time.Minute
	}

	logger := cronLogger{}
	s := &Scheduler{
		runner:   runner,
		provider: provider,
		opts:     opts,
		triggers: make(map[string]*trigger, len(defs)),
		base:     context.Background(),
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}

	for _, d := range defs {
		if _, dup := s.triggers[d.Name]; dup {
			return nil, fmt.Errorf("trigger %q: duplicate name", d.Name)
		}
		sched, err := cron.ParseStandard(d.Spec)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: parse %q: %w", d.Name, d.Spec, err)
		}
		t := &trigger{def: d, schedule: sched}
		s.cron.Schedule(sched, cron.FuncJob(func() { s.onSchedule(t) }))
		s.triggers[d.Name] = t
		s.order = append(s.order, d.Name)
	}
	sort.Strings(s.order)
	return s, nil
}

// Start runs the optional provider self-check and starts the cron clock. A failed
// self-check suppresses delivery instead of failing Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.base = context.WithoutCancel(ctx)
	s.mu.Unlock()

	if s.provider != nil && s.opts.SelfCheck {
		_ = s.CheckProvider(ctx)
	}
	if s.provider != nil && s.opts.SelfCheckInterval > 0 {
		s.cron.Schedule(cron.Every(s.opts.SelfCheckInterval), cron.FuncJob(func() { _ = s.CheckProvider(s.baseContext()) }))
	}

	s.cron.Start()
	slog.Info("scheduler started", "triggers", len(s.triggers), "location", s.opts.Location.String())
}

// Stop halts the clock and waits for running campaigns, including manual ones.
// Runs requested after Stop begins fail with ErrStopping.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// CheckProvider probes the delivery provider and suppresses or resumes delivery.
func (s *Scheduler) CheckProvider(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, s.opts.SelfCheckTimeout)
	defer cancel()

	if err := s.provider.SelfCheck(checkCtx); err != nil {
		slog.Error("provider self-check failed, suppressing delivery", "err", err)
		s.provider.Suppress(err.Error())
		return err
	}
	s.provider.Resume()
	slog.Debug("provider self-check ok")
	return nil
}

// Fire runs a named trigger now, outside its schedule.
func (s *Scheduler) Fire(ctx context.Context, name string) (campaign.Result, error) {
	t, ok := s.triggers[name]
	if !ok {
		return campaign.Result{}, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	return s.fire(ctx, t, "manual")
}

// RunCustom runs an ad-hoc custom campaign through the same runner.
func (s *Scheduler) RunCustom(ctx context.Context, req CustomRequest) (campaign.Result, error) {
	if !s.begin() {
		return campaign.Result{}, ErrStopping
	}
	defer s.inflight.Done()

	res, err := s.runner.Run(ctx, campaign.Request{
		Kind:      domain.KindCustom,
		Title:     req.Title,
		Message:   req.Message,
		Audience:  req.Audience,
		CreatedBy: req.CreatedBy,
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.TriggerFirings.WithLabelValues("custom", result).Inc()
	return res, err
}

// Triggers lists the configured triggers with their next fire time.
func (s *Scheduler) Triggers() []TriggerInfo {
	now := s.opts.Clock.Now().In(s.opts.Location)
	out := make([]TriggerInfo, 0, len(s.order))
	for _, name := range s.order {
		t := s.triggers[name]
		t.stateMu.Lock()
		info := TriggerInfo{
			Name:     t.def.Name,
			Spec:     t.def.Spec,
			Kind:     t.def.Kind,
			Audience: t.def.Audience,
			Next:     t.schedule.Next(now),
			Running:  t.running,
		}
		if t.last != nil {
			last := *t.last
			info.LastRun = &last
		}
		t.stateMu.Unlock()
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) onSchedule(t *trigger) {
	res, err := s.fire(s.baseContext(), t, "cron")
	switch {
	case errors.Is(err, ErrTriggerBusy):
		slog.Warn("trigger firing skipped", "trigger", t.def.Name, "err", err)
	case errors.Is(err, ErrStopping):
		slog.Info("trigger firing dropped during shutdown", "trigger", t.def.Name)
	case err != nil:
		slog.Error("scheduled campaign failed", "trigger", t.def.Name, "campaign_id", res.CampaignID, "err", err)
	}
}

func (s *Scheduler) fire(ctx context.Context, t *trigger, source string) (campaign.Result, error) {
	if !t.mu.TryLock() {
		observability.TriggerFirings.WithLabelValues(t.def.Name, "skipped").Inc()
		return campaign.Result{}, fmt.Errorf("%w: %q", ErrTriggerBusy, t.def.Name)
	}
	defer t.mu.Unlock()

	if !s.begin() {
		return campaign.Result{}, ErrStopping
	}
	defer s.inflight.Done()

	if s.opts.Lease != nil {
		ok, err := s.opts.Lease.Acquire(ctx, t.def.Name)
		if err != nil {
			observability.TriggerFirings.WithLabelValues(t.def.Name, "lease_error").Inc()
			return campaign.Result{}, fmt.Errorf("acquire lease for %q: %w", t.def.Name, err)
		}
		if !ok {
			observability.TriggerFirings.WithLabelValues(t.def.Name, "skipped").Inc()
			return campaign.Result{}, fmt.Errorf("%w: %q is running on another instance", ErrTriggerBusy, t.def.Name)
		}
		defer func() {
			if err := s.opts.Lease.Release(context.WithoutCancel(ctx), t.def.Name); err != nil {
				slog.Warn("release trigger lease failed", "trigger", t.def.Name, "err", err)
			}
		}()
		stopRenew := s.keepLease(context.WithoutCancel(ctx), t.def.Name)
		defer stopRenew()
	}

	t.setRunning(true)
	defer t.setRunning(false)

	slog.Info("trigger fired", "trigger", t.def.Name, "kind", t.def.Kind, "source", source)
	res, err := s.runner.Run(ctx, campaign.Request{
		Kind:        t.def.Kind,
		Title:       t.def.Title,
		Audience:    t.def.Audience,
		TriggerName: t.def.Name,
	})

	last := &LastRun{
		At:         s.opts.Clock.Now(),
		Source:     source,
		CampaignID: res.CampaignID,
		Status:     res.Status,
		Success:    res.Success,
		Failed:     res.Failed,
	}
	result := "ok"
	if err != nil {
		result = "error"
		last.Error = err.Error()
	}
	observability.TriggerFirings.WithLabelValues(t.def.Name, result).Inc()
	t.stateMu.Lock()
	t.last = last
	t.stateMu.Unlock()
	return res, err
}

// begin registers a run with Stop. It refuses once stopping has started so
// inflight.Add never races with inflight.Wait.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.inflight.Add(1)
	return true
}

// keepLease renews the trigger lease until the returned func is called.
func (s *Scheduler) keepLease(ctx context.Context, name string) (stop func()) {
	ticker := s.opts.Clock.NewTicker(s.opts.LeaseRenewInterval)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.Chan():
				if err := s.opts.Lease.Renew(ctx, name); err != nil {
					observability.TriggerFirings.WithLabelValues(name, "lease_renew_error").Inc()
					slog.Warn("renew trigger lease failed", "trigger", name, "err", err)
				}
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (t *trigger) setRunning(v bool) {
	t.stateMu.Lock()
	t.running = v
	t.stateMu.Unlock()
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// cronLogger routes cron's own diagnostics through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
