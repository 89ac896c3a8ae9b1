package store

import (
	"time"

	"bulknotif/internal/domain"
)

type CampaignInsert struct {
	ID             string
	Title          string
	Message        string
	Kind           domain.Kind
	Audience       domain.Audience
	Status         domain.CampaignStatus
	RecipientCount int
	TriggerName    string
	CreatedBy      *string
	Now            time.Time

	// Set only when the campaign is created already finalized (empty cohort).
	CompletedAt *time.Time
}

type CampaignFinalize struct {
	ID           string
	Status       domain.CampaignStatus
	SuccessCount int
	FailedCount  int
	CompletedAt  time.Time
}

type CampaignFilter struct {
	Kind   domain.Kind
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

type RecordFilter struct {
	Kind        domain.Kind
	Status      domain.DeliveryStatus
	RecipientID string
	CampaignID  string
	Limit       int
	Offset      int
}

// DefaultLimit caps list queries that arrive without an explicit limit.
const (
	DefaultLimit = 20
	MaxLimit     = 500
)

func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

type DeliveryStats struct {
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
	SentThisMonth int `json:"sentThisMonth"`
}

// StatusEvent is a provider status callback for a previously sent message.
type StatusEvent struct {
	Provider          string
	ProviderMessageID string
	Status            string
	ErrorCode         string
	Payload           any
	OccurredAt        time.Time
}
