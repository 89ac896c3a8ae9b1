package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"bulknotif/internal/observability"
	"bulknotif/internal/providers/twilio"
	sqsqueue "bulknotif/internal/queue/sqs"
)

type StatusQueue interface {
	Enqueue(ctx context.Context, ev sqsqueue.StatusEvent) error
}

// Webhook receives Twilio message status callbacks and hands them to the queue.
// Nothing is written to the database here.
type Webhook struct {
	Queue     StatusQueue
	AuthToken string
	// PublicURL must match the exact callback URL configured in Twilio.
	PublicURL string
	Clock     clockwork.Clock
}

func (w *Webhook) Register(r *mux.Router) {
	if w.Clock == nil {
		w.Clock = clockwork.NewRealClock()
	}
	r.HandleFunc("/v1/webhooks/twilio/status", w.handleTwilioStatus).Methods(http.MethodPost)
}

func (w *Webhook) handleTwilioStatus(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if !twilio.VerifySignature(w.AuthToken, w.PublicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	cb, ok := twilio.ParseStatusCallback(r.PostForm, w.Clock.Now())
	if !ok {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	observability.StatusEvents.WithLabelValues(cb.MessageStatus).Inc()

	if err := w.Queue.Enqueue(r.Context(), sqsqueue.StatusEvent{
		Provider:      "twilio",
		ProviderMsgID: cb.MessageSid,
		Status:        cb.MessageStatus,
		ErrorCode:     cb.ErrorCode,
		To:            cb.To,
		Payload:       cb.Raw,
		ReceivedAt:    cb.ReceivedAt,
	}); err != nil {
		// a non-2xx makes Twilio retry the callback
		slog.Error("enqueue status event failed", "err", err, "message_sid", cb.MessageSid, "status", cb.MessageStatus)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusOK)
}
