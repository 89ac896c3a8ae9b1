// Package audit appends delivery records on a best-effort side channel.
//
// Record never fails and does not wait for the store: records are queued and
// written in submission order by a single goroutine. A failed write is logged
// and counted, then dropped; it never reaches the caller's accounting.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bulknotif/internal/domain"
	"bulknotif/internal/observability"
	"bulknotif/internal/util"
)

type Store interface {
	AppendDeliveryRecord(ctx context.Context, rec domain.DeliveryRecord) error
}

type entry struct {
	ctx   context.Context
	rec   domain.DeliveryRecord
	flush chan struct{}
}

type Logger struct {
	store        Store
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan entry
	done   chan struct{}
}

type Options struct {
	Buffer       int
	WriteTimeout time.Duration
}

// New starts the writer goroutine; Close stops it.
func New(store Store, opts Options) *Logger {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	l := &Logger{
		store:        store,
		writeTimeout: opts.WriteTimeout,
		queue:        make(chan entry, opts.Buffer),
		done:         make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues rec for writing. A full buffer applies backpressure rather than
// dropping, so every attempt still gets exactly one record. After Close the
// write happens inline.
func (l *Logger) Record(ctx context.Context, rec domain.DeliveryRecord) {
	if rec.ID == "" {
		rec.ID = util.NewRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = util.NowUTC()
	}
	ctx = context.WithoutCancel(ctx)

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.write(entry{ctx: ctx, rec: rec})
		return
	}
	l.queue <- entry{ctx: ctx, rec: rec}
	l.mu.RUnlock()
}

// Flush waits until everything recorded before the call has been written or dropped.
func (l *Logger) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.queue <- entry{flush: marker}:
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}
	l.mu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer. It is safe to call more than once.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		if e.flush != nil {
			close(e.flush)
			continue
		}
		l.write(e)
	}
}

func (l *Logger) write(e entry) {
	ctx, cancel := context.WithTimeout(e.ctx, l.writeTimeout)
	defer cancel()

	if err := l.store.AppendDeliveryRecord(ctx, e.rec); err != nil {
		observability.AuditWriteFailures.Inc()
		slog.ErrorContext(e.ctx, "delivery record write failed",
			"err", err,
			"record_id", e.rec.ID,
			"recipient_id", e.rec.RecipientID,
			"campaign_id", deref(e.rec.CampaignID),
			"kind", e.rec.Kind,
			"status", e.rec.Status,
			"provider_msg_id", e.rec.ProviderMessageID,
		)
	}
}

// NewRecord builds the audit entry for one delivery attempt.
func NewRecord(r domain.Recipient, campaignID *string, kind domain.Kind, out domain.Outcome, body string, at time.Time) domain.DeliveryRecord {
	rec := domain.DeliveryRecord{
		ID:          util.NewRecordID(),
		RecipientID: r.ID,
		CampaignID:  campaignID,
		Phone:       r.Phone,
		Body:        body,
		Kind:        kind,
		CreatedAt:   at.UTC(),
	}
	if out.OK {
		rec.Status = domain.DeliverySent
		rec.ProviderMessageID = out.ProviderID
	} else {
		rec.Status = domain.DeliveryFailed
		rec.Error = out.Error
	}
	return rec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
