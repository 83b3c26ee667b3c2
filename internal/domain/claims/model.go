package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/domain/policies"
	"github.com/claimdesk/claimdesk/internal/intelligence/analyze"
)

// Claim statuses. APPROVED and REJECTED are terminal.
const (
	StatusDraft       = "DRAFT"
	StatusReviewReady = "REVIEW_READY"
	StatusAnalyzed    = "ANALYZED"
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
)

// Policy types.
const (
	TypeCashless      = "CASHLESS"
	TypeReimbursement = "REIMBURSEMENT"
)

// reviewable lists the statuses an insurer may decide from.
var reviewable = []string{StatusReviewReady, StatusAnalyzed}

// open lists the non-terminal statuses.
var open = []string{StatusDraft, StatusReviewReady, StatusAnalyzed}

type Claim struct {
	ID                 uuid.UUID                    `json:"id"`
	PatientName        string                       `json:"patient_name"`
	PatientAge         int                          `json:"patient_age"`
	Diagnosis          string                       `json:"diagnosis"`
	TreatmentPlan      string                       `json:"treatment_plan"`
	ClaimedAmount      float64                      `json:"claimed_amount"`
	HospitalID         uuid.UUID                    `json:"hospital_id"`
	PolicyID           *uuid.UUID                   `json:"policy_id,omitempty"`
	PolicyType         string                       `json:"policy_type"`
	UploadedDocuments  []documents.UploadedDocument `json:"uploaded_documents"`
	AIScore            *int                         `json:"ai_score,omitempty"`
	AIEstimatedAmount  *float64                     `json:"ai_estimated_amount,omitempty"`
	AINotes            *string                      `json:"ai_notes,omitempty"`
	AIFindings         []analyze.Finding            `json:"ai_findings"`
	AIDocumentFeedback []analyze.DocumentFeedback   `json:"ai_document_feedback"`
	AIReadyForReview   bool                         `json:"ai_ready_for_review"`
	AIAnalyzedAt       *time.Time                   `json:"ai_analyzed_at,omitempty"`
	Status             string                       `json:"status"`
	RejectionReason    *string                      `json:"rejection_reason,omitempty"`
	Revision           int                          `json:"revision"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

func (c *Claim) Terminal() bool {
	return c.Status == StatusApproved || c.Status == StatusRejected
}

// SubmitTarget is the status a draft moves to when submitted for review.
func SubmitTarget(policyType string) string {
	if policyType == TypeCashless {
		return StatusReviewReady
	}
	return StatusAnalyzed
}

// CreateClaimRequest holds the client-settable fields of a new claim. AI and
// status fields are never accepted from clients.
type CreateClaimRequest struct {
	PatientName   string     `json:"patient_name" validate:"required,max=255"`
	PatientAge    int        `json:"patient_age" validate:"gte=0,lte=150"`
	Diagnosis     string     `json:"diagnosis"`
	TreatmentPlan string     `json:"treatment_plan"`
	ClaimedAmount float64    `json:"claimed_amount" validate:"gte=0"`
	PolicyID      *uuid.UUID `json:"policy_id"`
	PolicyType    string     `json:"policy_type" validate:"required,oneof=CASHLESS REIMBURSEMENT"`
}

// UpdateClaimRequest is a partial update of a draft; nil fields are left alone.
type UpdateClaimRequest struct {
	PatientName   *string    `json:"patient_name,omitempty" validate:"omitempty,min=1,max=255"`
	PatientAge    *int       `json:"patient_age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Diagnosis     *string    `json:"diagnosis,omitempty"`
	TreatmentPlan *string    `json:"treatment_plan,omitempty"`
	ClaimedAmount *float64   `json:"claimed_amount,omitempty" validate:"omitempty,gte=0"`
	PolicyID      *uuid.UUID `json:"policy_id,omitempty"`
	PolicyType    *string    `json:"policy_type,omitempty" validate:"omitempty,oneof=CASHLESS REIMBURSEMENT"`
}

type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Reason   string `json:"reason"`
}

// ListFilter scopes a claim listing. HospitalID and InsurerID are mutually
// exclusive; InsurerID matches claims whose policy that insurer reviews.
type ListFilter struct {
	HospitalID   *uuid.UUID
	InsurerID    *uuid.UUID
	Status       string
	ExcludeDraft bool
}

// Detail is a claim with its policy snapshot and document reconciliation.
type Detail struct {
	Claim             *Claim                       `json:"claim"`
	Policy            *policies.Policy             `json:"policy,omitempty"`
	RequiredDocuments []documents.RequiredDocument `json:"required_documents"`
	MissingDocuments  []documents.RequiredDocument `json:"missing_documents"`
	PresentDocuments  []documents.RequiredDocument `json:"present_documents"`
	Complete          bool                         `json:"complete"`
}

type AnalyzeResponse struct {
	Claim    *Claim         `json:"claim"`
	Analysis analyze.Result `json:"analysis"`
	Degraded bool           `json:"degraded"`
}
