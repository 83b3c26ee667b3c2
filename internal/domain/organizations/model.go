package organizations

import (
	"time"

	"github.com/google/uuid"
)

type Hospital struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	ContactInfo string     `json:"contact_info"`
	AdminUserID *uuid.UUID `json:"admin_user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type InsuranceCompany struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	ContactInfo string     `json:"contact_info"`
	AdminUserID *uuid.UUID `json:"admin_user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NetworkLink records that a hospital is in an insurer's network. It is the
// only place the relation is stored; both directions are read from it.
type NetworkLink struct {
	InsurerID  uuid.UUID `json:"insurer_id"`
	HospitalID uuid.UUID `json:"hospital_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrgAdmin carries the optional administrative account created together
// with an organization.
type OrgAdmin struct {
	Username string `json:"admin_username"`
	Password string `json:"admin_password"`
}

type CreateHospitalRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Address     string `json:"address"`
	ContactInfo string `json:"contact_info"`
	OrgAdmin
}

type CreateInsurerRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	ContactInfo string `json:"contact_info"`
	OrgAdmin
}

type LinkHospitalsRequest struct {
	HospitalIDs []uuid.UUID `json:"hospital_ids" validate:"required,min=1"`
}
