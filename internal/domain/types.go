package domain

import (
	"errors"
	"time"
)

// Kind classifies a campaign and the delivery records it produces.
type Kind string

const (
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindYearly  Kind = "yearly"
	KindCustom  Kind = "custom"
	KindTest    Kind = "test"
	KindWelcome Kind = "welcome"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWeekly, KindMonthly, KindYearly, KindCustom, KindTest, KindWelcome:
		return true
	}
	return false
}

// CampaignKind reports whether k can drive a full campaign run.
// Welcome messages are only ever sent to a single recipient.
func (k Kind) CampaignKind() bool {
	return k.Valid() && k != KindWelcome
}

type CampaignStatus string

const (
	CampaignPending CampaignStatus = "pending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
	CampaignPartial CampaignStatus = "partial"
)

func (s CampaignStatus) Terminal() bool {
	return s == CampaignSent || s == CampaignFailed || s == CampaignPartial
}

// FinalStatus derives the terminal status of a run from its counts.
func FinalStatus(success, failed int) CampaignStatus {
	switch {
	case failed == 0:
		return CampaignSent
	case success == 0:
		return CampaignFailed
	default:
		return CampaignPartial
	}
}

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
)

// Target selects which part of the student population a campaign addresses.
type Target string

const (
	TargetAll                 Target = "all"
	TargetSchool              Target = "school"
	TargetCollege             Target = "college"
	TargetSpecificInstitution Target = "specific_institution"
)

type InstitutionType string

const (
	InstitutionSchool  InstitutionType = "school"
	InstitutionCollege InstitutionType = "college"
)

const RoleStudent = "student"

type Audience struct {
	Target          Target          `json:"target" yaml:"target"`
	InstitutionType InstitutionType `json:"institutionType,omitempty" yaml:"institutionType"`
	InstitutionID   string          `json:"institutionId,omitempty" yaml:"institutionId"`
}

// Normalize fills the defaults implied by the target.
func (a Audience) Normalize() Audience {
	if a.Target == "" {
		a.Target = TargetAll
	}
	switch a.Target {
	case TargetSchool:
		a.InstitutionType = InstitutionSchool
	case TargetCollege:
		a.InstitutionType = InstitutionCollege
	}
	return a
}

func (a Audience) Validate() error {
	switch a.Target {
	case "", TargetAll, TargetSchool, TargetCollege:
	case TargetSpecificInstitution:
		if a.InstitutionID == "" {
			return ErrMissingInstitution
		}
	default:
		return ErrInvalidAudience
	}
	switch a.InstitutionType {
	case "", InstitutionSchool, InstitutionCollege:
		return nil
	}
	return ErrInvalidAudience
}

type Counters struct {
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
	Yearly  int `json:"yearly"`
	Custom  int `json:"custom"`
	Total   int `json:"total"`
}

// Counter names the per-kind counter bumped by a successful delivery.
type Counter string

const (
	CounterWeekly  Counter = "weekly"
	CounterMonthly Counter = "monthly"
	CounterYearly  Counter = "yearly"
	CounterCustom  Counter = "custom"
	CounterNone    Counter = ""
)

// CounterFor maps a kind to its counter. Test traffic is accounted as custom;
// welcome messages only touch the total and the last-delivery time.
func CounterFor(k Kind) Counter {
	switch k {
	case KindWeekly:
		return CounterWeekly
	case KindMonthly:
		return CounterMonthly
	case KindYearly:
		return CounterYearly
	case KindCustom, KindTest:
		return CounterCustom
	default:
		return CounterNone
	}
}

type Recipient struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	Role            string          `json:"role"`
	Active          bool            `json:"active"`
	OptedIn         bool            `json:"optedIn"`
	InstitutionID   string          `json:"institutionId,omitempty"`
	InstitutionName string          `json:"institutionName,omitempty"`
	InstitutionType InstitutionType `json:"institutionType,omitempty"`
	ClassYear       string          `json:"classYear,omitempty"`
	Counters        Counters        `json:"counters"`
	LastDeliveryAt  *time.Time      `json:"lastDeliveryAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type Campaign struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Message        string         `json:"message,omitempty"`
	Kind           Kind           `json:"kind"`
	Audience       Audience       `json:"audience"`
	Status         CampaignStatus `json:"status"`
	RecipientCount int            `json:"recipientCount"`
	SuccessCount   int            `json:"successCount"`
	FailedCount    int            `json:"failedCount"`
	TriggerName    string         `json:"triggerName,omitempty"`
	CreatedBy      *string        `json:"createdBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

type DeliveryRecord struct {
	ID                string         `json:"id"`
	RecipientID       string         `json:"recipientId"`
	CampaignID        *string        `json:"campaignId,omitempty"`
	Phone             string         `json:"phone"`
	Body              string         `json:"body,omitempty"`
	Kind              Kind           `json:"kind"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`

	// Filled from provider status callbacks when listing; never written with the record.
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// Outcome is the normalized result of a single delivery attempt.
type Outcome struct {
	OK         bool   `json:"ok"`
	ProviderID string `json:"providerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func Delivered(providerID string) Outcome { return Outcome{OK: true, ProviderID: providerID} }

func Undelivered(detail string) Outcome { return Outcome{Error: detail} }

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidKind        = errors.New("invalid campaign kind")
	ErrInvalidAudience    = errors.New("invalid audience")
	ErrMissingInstitution = errors.New("specific_institution audience requires an institution id")
	ErrMissingMessage     = errors.New("custom campaigns require a message")
)
