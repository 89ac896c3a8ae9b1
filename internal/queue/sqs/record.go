package sqsqueue

import (
	"context"
	"fmt"

	"bulknotif/internal/store"
)

type StatusStore interface {
	InsertStatusEvent(ctx context.Context, in store.StatusEvent) error
}

// RecordTo returns a Handler that appends every event to the status event log.
// Delivery records themselves are never modified.
func RecordTo(s StatusStore) Handler {
	return func(ctx context.Context, ev StatusEvent) error {
		if ev.ProviderMsgID == "" || ev.Status == "" {
			// nothing to join against; let the message be deleted
			return nil
		}
		err := s.InsertStatusEvent(ctx, store.StatusEvent{
			Provider:          ev.Provider,
			ProviderMessageID: ev.ProviderMsgID,
			Status:            ev.Status,
			ErrorCode:         ev.ErrorCode,
			Payload:           ev.Payload,
			OccurredAt:        ev.ReceivedAt,
		})
		if err != nil {
			return fmt.Errorf("insert status event %s/%s: %w", ev.ProviderMsgID, ev.Status, err)
		}
		return nil
	}
}
