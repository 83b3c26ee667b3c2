package policies

import (
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
)

// Owner kinds.
const (
	OwnerInsurer  = "insurer"
	OwnerHospital = "hospital"
)

// Policy statuses.
const (
	StatusDraft  = "DRAFT"
	StatusActive = "ACTIVE"
)

// Policy is issued by an insurer, or kept by a hospital as its own rendition
// of a plan. A hospital-owned policy may name the insurer whose product it
// mirrors; that insurer then reviews claims filed under it.
type Policy struct {
	ID                uuid.UUID                    `json:"id"`
	Name              string                       `json:"name"`
	OwnerKind         string                       `json:"owner_kind"`
	InsurerID         *uuid.UUID                   `json:"insurer_id,omitempty"`
	HospitalID        *uuid.UUID                   `json:"hospital_id,omitempty"`
	InsurerName       string                       `json:"insurer_name,omitempty"`
	CoverageDetails   string                       `json:"coverage_details"`
	RequiredDocuments []documents.RequiredDocument `json:"required_documents"`
	Notes             string                       `json:"notes"`
	DocumentHandle    string                       `json:"document_handle,omitempty"`
	PolicyText        string                       `json:"-"`
	Status            string                       `json:"status"`
	// EligibleHospitalIDs is derived from the insurer's network; it is never stored.
	EligibleHospitalIDs []uuid.UUID `json:"eligible_hospital_ids"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// OwnedBy reports whether the caller's organization owns the policy.
func (p *Policy) OwnedBy(id auth.Identity) bool {
	switch p.OwnerKind {
	case OwnerInsurer:
		return id.IsInsurer() && p.InsurerID != nil && *p.InsurerID == id.InsurerID
	case OwnerHospital:
		return id.IsHospital() && p.HospitalID != nil && *p.HospitalID == id.HospitalID
	}
	return false
}

// ReviewedBy reports whether the caller is the insurer that decides claims
// filed under this policy.
func (p *Policy) ReviewedBy(id auth.Identity) bool {
	return id.IsInsurer() && p.InsurerID != nil && *p.InsurerID == id.InsurerID
}

type CreateInsurerPolicyRequest struct {
	Name              string                       `json:"name" validate:"required,max=255"`
	CoverageDetails   string                       `json:"coverage_details"`
	RequiredDocuments []documents.RequiredDocument `json:"required_documents" validate:"dive"`
	Notes             string                       `json:"notes"`
}

// UpdatePolicyRequest carries a partial update; nil fields are left alone.
type UpdatePolicyRequest struct {
	Name              *string                       `json:"name,omitempty"`
	CoverageDetails   *string                       `json:"coverage_details,omitempty"`
	RequiredDocuments *[]documents.RequiredDocument `json:"required_documents,omitempty"`
	Notes             *string                       `json:"notes,omitempty"`
}

type LinkHospitalsRequest struct {
	HospitalIDs []uuid.UUID `json:"hospital_ids" validate:"required,min=1"`
}

type SuggestResponse struct {
	RequiredDocuments []documents.RequiredDocument `json:"required_documents"`
	ExtractedChars    int                          `json:"extracted_chars"`
}
