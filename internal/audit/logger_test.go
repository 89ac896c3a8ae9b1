package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bulknotif/internal/domain"
	"bulknotif/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu      sync.Mutex
	records []domain.DeliveryRecord
	failFor map[string]bool
	block   chan struct{}
}

func (s *memStore) AppendDeliveryRecord(ctx context.Context, rec domain.DeliveryRecord) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[rec.RecipientID] {
		return errors.New("store unavailable")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.RecipientID)
	}
	return out
}

func TestRecordPreservesOrder(t *testing.T) {
	st := &memStore{}
	l := New(st, Options{Buffer: 2})
	defer l.Close()

	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		l.Record(context.Background(), domain.DeliveryRecord{RecipientID: id})
	}
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5"}, st.ids())
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	st := &memStore{}
	l := New(st, Options{})
	l.Record(context.Background(), domain.DeliveryRecord{RecipientID: "r1"})
	l.Close()

	require.Len(t, st.records, 1)
	assert.NotEmpty(t, st.records[0].ID)
	assert.False(t, st.records[0].CreatedAt.IsZero())
}

func TestWriteFailureIsSwallowedAndCounted(t *testing.T) {
	before := testutil.ToFloat64(observability.AuditWriteFailures)
	st := &memStore{failFor: map[string]bool{"r2": true}}
	l := New(st, Options{})
	defer l.Close()

	for _, id := range []string{"r1", "r2", "r3"} {
		l.Record(context.Background(), domain.DeliveryRecord{RecipientID: id})
	}
	require.NoError(t, l.Flush(context.Background()))

	assert.Equal(t, []string{"r1", "r3"}, st.ids())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.AuditWriteFailures))
}

func TestRecordDoesNotWaitForStore(t *testing.T) {
	st := &memStore{block: make(chan struct{})}
	l := New(st, Options{Buffer: 4})

	done := make(chan struct{})
	go func() {
		l.Record(context.Background(), domain.DeliveryRecord{RecipientID: "r1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow store")
	}
	close(st.block)
	l.Close()
	assert.Equal(t, []string{"r1"}, st.ids())
}

func TestCanceledCallerContextStillWrites(t *testing.T) {
	st := &memStore{}
	l := New(st, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Record(ctx, domain.DeliveryRecord{RecipientID: "r1"})
	l.Close()
	assert.Equal(t, []string{"r1"}, st.ids())
}

func TestRecordAfterCloseWritesInline(t *testing.T) {
	st := &memStore{}
	l := New(st, Options{})
	l.Close()
	l.Close()

	l.Record(context.Background(), domain.DeliveryRecord{RecipientID: "late"})
	assert.Equal(t, []string{"late"}, st.ids())
	assert.NoError(t, l.Flush(context.Background()))
}

func TestFlushHonoursContext(t *testing.T) {
	st := &memStore{block: make(chan struct{})}
	l := New(st, Options{})
	l.Record(context.Background(), domain.DeliveryRecord{RecipientID: "r1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Flush(ctx), context.DeadlineExceeded)

	close(st.block)
	l.Close()
}

func TestNewRecord(t *testing.T) {
	cid := "cmp_1"
	r := domain.Recipient{ID: "r1", Phone: "+1"}
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ok := NewRecord(r, &cid, domain.KindWeekly, domain.Delivered("SM1"), "hi", at)
	assert.Equal(t, domain.DeliverySent, ok.Status)
	assert.Equal(t, "SM1", ok.ProviderMessageID)
	assert.Equal(t, "cmp_1", *ok.CampaignID)
	assert.Empty(t, ok.Error)

	bad := NewRecord(r, nil, domain.KindTest, domain.Undelivered("boom"), "hi", at)
	assert.Equal(t, domain.DeliveryFailed, bad.Status)
	assert.Equal(t, "boom", bad.Error)
	assert.Nil(t, bad.CampaignID)
}
