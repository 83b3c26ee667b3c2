package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/intelligence/analyze"
	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// queryable abstracts pgxpool.Pool, pgxpool.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type claimRepoPG struct {
	pool *pgxpool.Pool
}

func NewClaimRepo(pool *pgxpool.Pool) ClaimRepository {
	return &claimRepoPG{pool: pool}
}

func (r *claimRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const claimColumns = `id, patient_name, patient_age, diagnosis, treatment_plan, claimed_amount,
	hospital_id, policy_id, policy_type, uploaded_documents,
	ai_score, ai_estimated_amount, ai_notes, ai_findings, ai_document_feedback,
	ai_ready_for_review, ai_analyzed_at, status, rejection_reason, revision, created_at, updated_at`

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	c.Revision = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claims (id, patient_name, patient_age, diagnosis, treatment_plan, claimed_amount,
			hospital_id, policy_id, policy_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientName, c.PatientAge, c.Diagnosis, c.TreatmentPlan, c.ClaimedAmount,
		c.HospitalID, c.PolicyID, c.PolicyType, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("claim references an unknown hospital or policy")
	}
	if db.IsCheckViolation(err) {
		return apperr.Validation("claim has an invalid amount or policy type")
	}
	if err != nil {
		return err
	}
	c.UploadedDocuments = []documents.UploadedDocument{}
	c.AIFindings = []analyze.Finding{}
	c.AIDocumentFeedback = []analyze.DocumentFeedback{}
	return nil
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
}

func (r *claimRepoPG) UpdateDraft(ctx context.Context, c *Claim) (*Claim, error) {
	out, err := scanClaim(r.conn(ctx).QueryRow(ctx, `
		UPDATE claims SET patient_name = $2, patient_age = $3, diagnosis = $4, treatment_plan = $5,
			claimed_amount = $6, policy_id = $7, policy_type = $8, revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'DRAFT'
		RETURNING `+claimColumns,
		c.ID, c.PatientName, c.PatientAge, c.Diagnosis, c.TreatmentPlan,
		c.ClaimedAmount, c.PolicyID, c.PolicyType))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, r.missing(ctx, c.ID, "only draft claims can be edited")
	}
	return out, err
}

func (r *claimRepoPG) AppendDocument(ctx context.Context, id uuid.UUID, doc documents.UploadedDocument) (*Claim, error) {
	raw, err := json.Marshal([]documents.UploadedDocument{doc})
	if err != nil {
		return nil, fmt.Errorf("encode uploaded document: %w", err)
	}
	out, err := scanClaim(r.conn(ctx).QueryRow(ctx, `
		UPDATE claims SET uploaded_documents = uploaded_documents || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+claimColumns, id, raw, open))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, r.missing(ctx, id, "claim is already decided")
	}
	return out, err
}

func (r *claimRepoPG) UpdateAnalysis(ctx context.Context, id uuid.UUID, res analyze.Result, at time.Time) (*Claim, error) {
	findings, err := json.Marshal(res.Findings)
	if err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}
	feedback, err := json.Marshal(res.DocumentFeedback)
	if err != nil {
		return nil, fmt.Errorf("encode document feedback: %w", err)
	}
	out, err := scanClaim(r.conn(ctx).QueryRow(ctx, `
		UPDATE claims SET ai_score = $2, ai_estimated_amount = $3, ai_notes = $4, ai_findings = $5,
			ai_document_feedback = $6, ai_ready_for_review = TRUE, ai_analyzed_at = $7,
			revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($8)
		RETURNING `+claimColumns,
		id, res.Score, res.EstimatedAmount, res.Notes, findings, feedback, at, open))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, r.missing(ctx, id, "claim is already decided")
	}
	return out, err
}

func (r *claimRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string, reason *string) (*Claim, error) {
	out, err := scanClaim(r.conn(ctx).QueryRow(ctx, `
		UPDATE claims SET status = $2, rejection_reason = $3, revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+claimColumns, id, to, reason, from))
	if db.IsCheckViolation(err) {
		return nil, apperr.Validation("a rejection reason is required exactly when a claim is rejected")
	}
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, r.missing(ctx, id, fmt.Sprintf("claim cannot move to %s from its current status", to))
	}
	return out, err
}

func (r *claimRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM claims WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("claim not found")
	}
	return nil
}

func (r *claimRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Claim, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.HospitalID != nil {
		conds = append(conds, "hospital_id = "+arg(*f.HospitalID))
	}
	if f.InsurerID != nil {
		conds = append(conds, "policy_id IN (SELECT id FROM policies WHERE insurer_id = "+arg(*f.InsurerID)+")")
	}
	if f.ExcludeDraft {
		conds = append(conds, "status <> 'DRAFT'")
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + claimColumns + ` FROM claims` + where + ` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// missing tells a conditional update that matched nothing because the claim
// is gone apart from one that matched nothing because its status moved on.
func (r *claimRepoPG) missing(ctx context.Context, id uuid.UUID, conflict string) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("claim not found")
	}
	return apperr.Conflict("%s", conflict)
}

func scanClaim(row pgx.Row) (*Claim, error) {
	var (
		c                      Claim
		uploaded, fnd, feedbck []byte
	)
	err := row.Scan(&c.ID, &c.PatientName, &c.PatientAge, &c.Diagnosis, &c.TreatmentPlan, &c.ClaimedAmount,
		&c.HospitalID, &c.PolicyID, &c.PolicyType, &uploaded,
		&c.AIScore, &c.AIEstimatedAmount, &c.AINotes, &fnd, &feedbck,
		&c.AIReadyForReview, &c.AIAnalyzedAt, &c.Status, &c.RejectionReason, &c.Revision, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("claim not found")
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(uploaded, &c.UploadedDocuments); err != nil {
		return nil, fmt.Errorf("decode uploaded documents of claim %s: %w", c.ID, err)
	}
	if err := decodeJSON(fnd, &c.AIFindings); err != nil {
		return nil, fmt.Errorf("decode findings of claim %s: %w", c.ID, err)
	}
	if err := decodeJSON(feedbck, &c.AIDocumentFeedback); err != nil {
		return nil, fmt.Errorf("decode document feedback of claim %s: %w", c.ID, err)
	}
	if c.UploadedDocuments == nil {
		c.UploadedDocuments = []documents.UploadedDocument{}
	}
	if c.AIFindings == nil {
		c.AIFindings = []analyze.Finding{}
	}
	if c.AIDocumentFeedback == nil {
		c.AIDocumentFeedback = []analyze.DocumentFeedback{}
	}
	return &c, nil
}

func decodeJSON(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
