package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"bulknotif/internal/httpserver"
	"bulknotif/internal/logging"
	"bulknotif/internal/providers/twilio"
)

type config struct {
	AccountSID        string        `envconfig:"TWILIO_ACCOUNT_SID" default:"ACmock0000000000000000000000000000"`
	AuthToken         string        `envconfig:"TWILIO_AUTH_TOKEN" default:"mock_token"`
	AccountStatus     string        `envconfig:"MOCK_ACCOUNT_STATUS" default:"active"`
	Port              string        `envconfig:"PORT" default:"8080"`
	OutcomeMode       string        `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw       string        `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate       float64       `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailureWeightsRaw string        `envconfig:"MOCK_FAILURE_WEIGHTS" default:"failed:1"`
	Delay             time.Duration `envconfig:"MOCK_DELAY" default:"0s"`
	TimeoutDelay      time.Duration `envconfig:"MOCK_TIMEOUT_DELAY" default:"12s"`
	DefaultWebhookURL string        `envconfig:"MOCK_WEBHOOK_URL"`
	WebhookDelay      time.Duration `envconfig:"MOCK_WEBHOOK_DELAY" default:"500ms"`
	// WhatsApp reports a "read" status after delivery when the recipient opens the message.
	ReadRate float64 `envconfig:"MOCK_READ_RATE" default:"0.5"`

	WebhookMaxRetries int           `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"8"`
	WebhookRetryBase  time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_BASE" default:"250ms"`
	WebhookRetryMax   time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_MAX" default:"10s"`

	Outcomes       []string
	FailureWeights []weightedOutcome
}

type server struct {
	cfg    config
	idx    atomic.Uint64
	rr     atomic.Uint64
	rngMu  sync.Mutex
	rng    *rand.Rand
	client *http.Client
}

func main() {
	logging.Init("mock-provider", logging.Options{Format: os.Getenv("LOG_FORMAT"), Level: os.Getenv("LOG_LEVEL")})
	cfg := loadConfig()

	s := newServer(cfg, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))

	slog.Info("mock provider listening", "port", cfg.Port, "mode", cfg.OutcomeMode)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(s.routes())); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func newServer(cfg config, rng *rand.Rand) *server {
	return &server{cfg: cfg, rng: rng, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}.json", s.handleAccount).Methods(http.MethodGet)
	return router
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.FailureWeights = parseWeightedOutcomes(cfg.FailureWeightsRaw)
	if len(cfg.FailureWeights) == 0 {
		cfg.FailureWeights = []weightedOutcome{{Kind: "failed", Weight: 1}}
	}
	if cfg.WebhookMaxRetries < 0 {
		cfg.WebhookMaxRetries = 0
	}
	return cfg
}

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		writeError(w, http.StatusUnauthorized, 20003, "Authenticate")
		return
	}
	writeJSON(w, http.StatusOK, twilio.Account{Sid: s.cfg.AccountSID, FriendlyName: "mock account", Status: s.cfg.AccountStatus})
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.checkBasicAuth(r) {
		writeError(w, http.StatusUnauthorized, 20003, "Authenticate")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, 21620, "Invalid form data")
		return
	}
	if r.Form.Get("To") == "" || r.Form.Get("Body") == "" {
		writeError(w, http.StatusBadRequest, 21602, "Missing required parameter")
		return
	}
	if r.Form.Get("From") == "" {
		writeError(w, http.StatusBadRequest, 21606, "From is required")
		return
	}
	if !strings.HasPrefix(r.Form.Get("To"), "whatsapp:") {
		writeError(w, http.StatusBadRequest, 63003, "Channel could not find To address")
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	out := classifyOutcome(s.nextOutcome())
	if out.callErr != nil {
		if errors.Is(out.callErr, context.DeadlineExceeded) {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.cfg.TimeoutDelay):
			}
		}
		writeError(w, out.httpStatus, out.errorCode, out.callErr.Error())
		return
	}

	sid := fmt.Sprintf("SM%032d", s.idx.Add(1))
	writeJSON(w, http.StatusCreated, twilio.SendResponse{Sid: sid, Status: "queued"})

	cb := r.Form.Get("StatusCallback")
	if cb == "" {
		cb = s.cfg.DefaultWebhookURL
	}
	s.webhookSequence(cb, sid, r.Form.Get("To"), out)
}

// webhookSequence posts queued, sent and the final status, then read for a share
// of delivered messages.
func (s *server) webhookSequence(callbackURL, sid, to string, out outcome) {
	if callbackURL == "" {
		return
	}
	statuses := []string{"queued"}
	if out.sendSent {
		statuses = append(statuses, "sent")
	}
	statuses = append(statuses, out.finalStatus)
	if out.finalStatus == "delivered" && s.float() < s.cfg.ReadRate {
		statuses = append(statuses, "read")
	}

	go func() {
		for _, status := range statuses {
			time.Sleep(s.cfg.WebhookDelay)
			form := url.Values{}
			form.Set("MessageSid", sid)
			form.Set("MessageStatus", status)
			form.Set("To", to)
			if status == out.finalStatus && out.errorCode != 0 {
				form.Set("ErrorCode", strconv.Itoa(out.errorCode))
			}
			if err := s.postWebhook(context.Background(), callbackURL, form); err != nil {
				return
			}
		}
	}()
}

func (s *server) postWebhook(ctx context.Context, callbackURL string, form url.Values) error {
	sig := twilio.Signature(s.cfg.AuthToken, callbackURL, form)
	var err error
	for attempt := 0; attempt <= s.cfg.WebhookMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(s.cfg.WebhookRetryBase, s.cfg.WebhookRetryMax, attempt-1))
		}
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)

		var resp *http.Response
		resp, err = s.client.Do(req)
		if err != nil {
			slog.Warn("mock webhook post retrying", "url", callbackURL, "attempt", attempt+1, "err", err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("webhook post failed: status=%d", resp.StatusCode)
		if !isRetryableStatus(resp.StatusCode) {
			slog.Error("mock webhook post non-retryable", "url", callbackURL, "status", resp.StatusCode)
			return err
		}
		slog.Warn("mock webhook post retrying", "url", callbackURL, "attempt", attempt+1, "status", resp.StatusCode)
	}
	slog.Error("mock webhook post failed", "url", callbackURL, "err", err)
	return err
}

func (s *server) checkBasicAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == s.cfg.AccountSID && pass == s.cfg.AuthToken
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		i := s.rr.Add(1) - 1
		return s.cfg.Outcomes[int(i%uint64(len(s.cfg.Outcomes)))]
	case "weighted":
		if s.float() <= s.cfg.SuccessRate {
			return "ok"
		}
		return pickWeighted(s.float(), s.cfg.FailureWeights)
	case "random":
		s.rngMu.Lock()
		i := s.rng.IntN(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func (s *server) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func writeError(w http.ResponseWriter, status int, code int, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "status": status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
