package cohort

import (
	"context"
	"fmt"

	"bulknotif/internal/domain"
)

// Directory is the recipient store's query side.
type Directory interface {
	Cohort(ctx context.Context, audience domain.Audience) ([]domain.Recipient, error)
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the eligible recipients for a run in stable order. No match is
// an empty slice, not an error. The result is a snapshot owned by the caller.
func (r *Resolver) Resolve(ctx context.Context, kind domain.Kind, audience domain.Audience) ([]domain.Recipient, error) {
	if !kind.CampaignKind() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	audience = audience.Normalize()
	if err := audience.Validate(); err != nil {
		return nil, err
	}

	found, err := r.dir.Cohort(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("resolve cohort: %w", err)
	}

	out := make([]domain.Recipient, 0, len(found))
	for _, rc := range found {
		if Eligible(rc, audience) {
			out = append(out, rc)
		}
	}
	return out, nil
}

// Eligible applies the cohort predicate to one recipient.
func Eligible(rc domain.Recipient, audience domain.Audience) bool {
	if !rc.Active || !rc.OptedIn || rc.Role != domain.RoleStudent {
		return false
	}
	switch audience.Target {
	case domain.TargetSchool, domain.TargetCollege:
		return rc.InstitutionType == audience.InstitutionType
	case domain.TargetSpecificInstitution:
		return rc.InstitutionID == audience.InstitutionID
	default:
		return true
	}
}
