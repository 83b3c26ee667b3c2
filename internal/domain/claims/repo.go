package claims

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/intelligence/analyze"
)

// ClaimRepository persists claims. Every mutation returns the stored row.
type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	// UpdateDraft writes the client-editable fields of a claim still in DRAFT.
	UpdateDraft(ctx context.Context, c *Claim) (*Claim, error)
	// AppendDocument atomically appends to the uploaded documents of a
	// non-terminal claim.
	AppendDocument(ctx context.Context, id uuid.UUID, doc documents.UploadedDocument) (*Claim, error)
	// UpdateAnalysis writes the AI fields, marks the claim ready for review and
	// bumps its revision. Concurrent analyses are last-write-wins.
	UpdateAnalysis(ctx context.Context, id uuid.UUID, res analyze.Result, at time.Time) (*Claim, error)
	// UpdateStatus moves a claim to status `to` only if its current status is
	// one of from. A stale transition yields a Conflict error.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string, reason *string) (*Claim, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Claim, int, error)
}
