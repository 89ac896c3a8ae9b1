package config

import (
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type DispatcherConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string `envconfig:"LOG_FILE"`

	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"15m"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"1m"`
	RunMigrations           bool          `envconfig:"RUN_MIGRATIONS" default:"true"`

	// Admin API
	AdminToken string `envconfig:"ADMIN_API_TOKEN"`

	// Scheduler
	SchedulerTZ       string        `envconfig:"SCHEDULER_TZ" default:"Asia/Kolkata"`
	TriggersFile      string        `envconfig:"TRIGGERS_FILE"`
	SelfCheckOnStart  bool          `envconfig:"SELF_CHECK_ON_START" default:"true"`
	SelfCheckInterval time.Duration `envconfig:"SELF_CHECK_INTERVAL" default:"10m"`
	DeliveryInterval  time.Duration `envconfig:"DELIVERY_INTERVAL" default:"1s"`
	AuditBuffer       int           `envconfig:"AUDIT_BUFFER" default:"256"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	TriggerLeaseTTL   time.Duration `envconfig:"TRIGGER_LEASE_TTL" default:"2h"`
	InstanceID        string        `envconfig:"INSTANCE_ID"`
	OrphanAge         time.Duration `envconfig:"ORPHAN_AGE" default:"6h"`

	// Twilio, validated by twilio.Config.Validate before any delivery path starts
	TwilioConfig

	// Status callbacks (optional)
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	StatusQueueURL     string `envconfig:"STATUS_QUEUE_URL"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	StatusConcurrency  int    `envconfig:"STATUS_CONCURRENCY" default:"4"`
}

type TwilioConfig struct {
	AccountSID      string        `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken       string        `envconfig:"TWILIO_AUTH_TOKEN"`
	From            string        `envconfig:"TWILIO_WHATSAPP_FROM" default:"whatsapp:+14155238886"`
	BaseURL         string        `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	StatusURL       string        `envconfig:"TWILIO_STATUS_CALLBACK_URL"`
	Timeout         time.Duration `envconfig:"TWILIO_TIMEOUT" default:"8s"`
	BreakerMax      uint32        `envconfig:"TWILIO_BREAKER_CONSECUTIVE_FAILURES" default:"10"`
	BreakerCooldown time.Duration `envconfig:"TWILIO_BREAKER_COOLDOWN" default:"20s"`
}

type WebhookConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Webhook signature verification
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"` // must match EXACT URL configured in Twilio

	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	StatusQueueURL     string `envconfig:"STATUS_QUEUE_URL" required:"true"`
}

// loadDotEnv reads a .env file when present; real environment variables win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
}

func LoadDispatcher() DispatcherConfig {
	loadDotEnv()
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	loadDotEnv()
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
