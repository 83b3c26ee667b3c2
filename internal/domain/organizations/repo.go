package organizations

import (
	"context"

	"github.com/google/uuid"
)

type HospitalRepository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	List(ctx context.Context, limit, offset int) ([]*Hospital, int, error)
	SetAdmin(ctx context.Context, id, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type InsurerRepository interface {
	Create(ctx context.Context, ic *InsuranceCompany) error
	GetByID(ctx context.Context, id uuid.UUID) (*InsuranceCompany, error)
	List(ctx context.Context, limit, offset int) ([]*InsuranceCompany, int, error)
	SetAdmin(ctx context.Context, id, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// NetworkRepository persists the insurer/hospital edge set.
type NetworkRepository interface {
	Link(ctx context.Context, insurerID, hospitalID uuid.UUID) error
	Unlink(ctx context.Context, insurerID, hospitalID uuid.UUID) error
	IsLinked(ctx context.Context, insurerID, hospitalID uuid.UUID) (bool, error)
	HospitalsForInsurer(ctx context.Context, insurerID uuid.UUID) ([]*Hospital, error)
	InsurersForHospital(ctx context.Context, hospitalID uuid.UUID) ([]*InsuranceCompany, error)
}
