package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulknotif/internal/awsutil"
	"bulknotif/internal/config"
	"bulknotif/internal/httpserver"
	"bulknotif/internal/logging"
	"bulknotif/internal/observability"
	sqsqueue "bulknotif/internal/queue/sqs"
)

func main() {
	cfg := config.LoadWebhook()
	logging.Init("webhook", logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.StatusQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New()
	(&httpserver.Webhook{
		Queue:     &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.StatusQueueURL},
		AuthToken: cfg.TwilioAuthToken,
		PublicURL: cfg.PublicWebhookURL,
	}).Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, httpserver.ReadyzCheck{Name: "status_queue", Check: queueReachable}))
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(s.Mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook metrics server failed", "err", err)
		}
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}
