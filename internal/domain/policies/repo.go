package policies

import (
	"context"

	"github.com/google/uuid"
)

type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	ListByInsurer(ctx context.Context, insurerID uuid.UUID, limit, offset int) ([]*Policy, int, error)
	// ListForHospital returns the hospital's own policies plus the active
	// policies of insurers whose network includes it.
	ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Policy, int, error)
}
