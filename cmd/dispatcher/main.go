package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulknotif/internal/audit"
	"bulknotif/internal/awsutil"
	"bulknotif/internal/campaign"
	"bulknotif/internal/cohort"
	"bulknotif/internal/config"
	"bulknotif/internal/coordination"
	"bulknotif/internal/delivery"
	"bulknotif/internal/httpserver"
	"bulknotif/internal/logging"
	"bulknotif/internal/observability"
	"bulknotif/internal/providers/twilio"
	sqsqueue "bulknotif/internal/queue/sqs"
	"bulknotif/internal/scheduler"
	"bulknotif/internal/store/pg"
	"bulknotif/internal/templates"
	"bulknotif/internal/throttle"
)

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := time.LoadLocation(cfg.SchedulerTZ)
	if err != nil {
		slog.Error("invalid SCHEDULER_TZ", "tz", cfg.SchedulerTZ, "err", err)
		os.Exit(1)
	}
	defs, err := config.LoadTriggers(cfg.TriggersFile)
	if err != nil {
		slog.Error("load triggers failed", "err", err)
		os.Exit(1)
	}

	// misconfigured credentials never reach the provider
	twCfg := twilio.Config{
		AccountSID:        cfg.AccountSID,
		AuthToken:         cfg.AuthToken,
		From:              cfg.From,
		BaseURL:           cfg.BaseURL,
		StatusCallbackURL: cfg.StatusURL,
		Timeout:           cfg.Timeout,
	}
	sender, err := delivery.NewTwilio(twCfg, delivery.Options{
		BreakerFailures: cfg.BreakerMax,
		BreakerCooldown: cfg.BreakerCooldown,
		SendTimeout:     cfg.Timeout,
	})
	if err != nil {
		slog.Error("delivery client init failed", "err", err)
		os.Exit(1)
	}
	if twCfg.Sandbox() {
		slog.Warn("sending through the shared WhatsApp sandbox number; recipients must join the sandbox first")
	}

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
		ApplicationName:   "bulknotif-dispatcher",
	})
	if err != nil {
		slog.Error("dispatcher db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 5*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if cfg.RunMigrations {
		if err := pg.Migrate(ctx, db); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}
	store := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	clock := clockwork.NewRealClock()
	auditLog := audit.New(store, audit.Options{Buffer: cfg.AuditBuffer})
	runner := campaign.NewRunner(campaign.Deps{
		Store:      store,
		Recipients: store,
		Cohorts:    cohort.NewResolver(store),
		Sender:     sender,
		Audit:      auditLog,
		Templates:  templates.New(templates.WithClock(clock), templates.WithLocation(loc)),
		Clock:      clock,
		Pacer:      throttle.Sequence(cfg.DeliveryInterval),
	})

	schedOpts := scheduler.Options{
		Location:          loc,
		Clock:             clock,
		SelfCheck:         cfg.SelfCheckOnStart,
		SelfCheckInterval: cfg.SelfCheckInterval,
	}
	if cfg.RedisURL != "" {
		rdb, err := coordination.Connect(startupCtx, cfg.RedisURL)
		if err != nil {
			slog.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		instance := cfg.InstanceID
		if instance == "" {
			instance, _ = os.Hostname()
		}
		schedOpts.Lease = coordination.NewTriggerLease(rdb, instance, cfg.TriggerLeaseTTL)
		schedOpts.LeaseRenewInterval = cfg.TriggerLeaseTTL / 3
		slog.Info("trigger leases enabled", "instance", instance, "ttl", cfg.TriggerLeaseTTL)
	}

	sched, err := scheduler.New(runner, sender, defs, schedOpts)
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_API_TOKEN is empty; admin API is unauthenticated")
	}
	handler := newHandler(&httpserver.API{
		Triggers: sched,
		Singles:  runner,
		Store:    store,
		Provider: sender,
		Info: httpserver.ProviderInfo{
			Configured: true,
			SIDPrefix:  strings.HasPrefix(cfg.AccountSID, "AC"),
			From:       twilio.Address(cfg.From),
			Sandbox:    twCfg.Sandbox(),
		},
		Clock:     clock,
		Location:  loc,
		OrphanAge: cfg.OrphanAge,
	}, cfg.AdminToken, httpserver.ReadyzCheck{Name: "postgres", Check: store.Ping})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 3)
	go func() {
		slog.Info("dispatcher listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		slog.Info("metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()

	// provider status callbacks, when a queue is configured
	pollDone := make(chan struct{})
	if cfg.StatusQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("sqs client init failed", "err", err)
			os.Exit(1)
		}
		consumer := &sqsqueue.Consumer{
			SQS:               sqsClient,
			QueueURL:          cfg.StatusQueueURL,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		go func() {
			defer close(pollDone)
			slog.Info("status consumer starting", "queue_url", cfg.StatusQueueURL)
			if err := consumer.PollConcurrent(ctx, cfg.StatusConcurrency, sqsqueue.RecordTo(store)); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	} else {
		close(pollDone)
	}

	sched.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dispatcher failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	// running campaigns finish; they are never cut short
	if err := sched.Stop(context.Background()); err != nil {
		slog.Error("scheduler stop failed", "err", err)
	}
	auditLog.Close()

	cancel()
	select {
	case <-pollDone:
	case <-time.After(10 * time.Second):
		slog.Info("shutdown timeout waiting for status consumer")
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// newHandler serves health probes and the admin API on the main port.
func newHandler(api *httpserver.API, adminToken string, ready ...httpserver.ReadyzCheck) http.Handler {
	return httpserver.Logging(httpserver.Dispatcher(api, adminToken, ready...).Mux)
}
