package policies

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// queryable abstracts pgxpool.Pool, pgxpool.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type policyRepoPG struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) PolicyRepository {
	return &policyRepoPG{pool: pool}
}

func (r *policyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const policyColumns = `p.id, p.name, p.owner_kind, p.insurer_id, p.hospital_id, COALESCE(i.name, ''),
	p.coverage_details, p.required_documents, p.notes, p.document_handle, p.policy_text,
	p.status, p.created_at, p.updated_at`

const policyFrom = ` FROM policies p LEFT JOIN insurance_companies i ON i.id = p.insurer_id`

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	p.ID = uuid.New()
	docs, err := json.Marshal(nonNilDocs(p.RequiredDocuments))
	if err != nil {
		return fmt.Errorf("encode required documents: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO policies (id, name, owner_kind, insurer_id, hospital_id, coverage_details,
			required_documents, notes, document_handle, policy_text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.OwnerKind, p.InsurerID, p.HospitalID, p.CoverageDetails,
		docs, p.Notes, p.DocumentHandle, p.PolicyText, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("policy references an unknown organization")
	}
	return err
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyColumns+policyFrom+` WHERE p.id = $1`, id))
}

func (r *policyRepoPG) Update(ctx context.Context, p *Policy) error {
	docs, err := json.Marshal(nonNilDocs(p.RequiredDocuments))
	if err != nil {
		return fmt.Errorf("encode required documents: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE policies SET name = $2, coverage_details = $3, required_documents = $4, notes = $5,
			document_handle = $6, policy_text = $7, status = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.CoverageDetails, docs, p.Notes, p.DocumentHandle, p.PolicyText, p.Status,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("policy not found")
	}
	return err
}

func (r *policyRepoPG) ListByInsurer(ctx context.Context, insurerID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	const where = ` WHERE p.owner_kind = 'insurer' AND p.insurer_id = $1`
	return r.list(ctx, where, insurerID, limit, offset)
}

func (r *policyRepoPG) ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	const where = ` WHERE p.hospital_id = $1
		OR (p.owner_kind = 'insurer' AND p.status = 'ACTIVE'
			AND p.insurer_id IN (SELECT insurer_id FROM network_links WHERE hospital_id = $1))`
	return r.list(ctx, where, hospitalID, limit, offset)
}

func (r *policyRepoPG) list(ctx context.Context, where string, arg uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+policyFrom+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+policyColumns+policyFrom+where+` ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	var docs []byte
	err := row.Scan(&p.ID, &p.Name, &p.OwnerKind, &p.InsurerID, &p.HospitalID, &p.InsurerName,
		&p.CoverageDetails, &docs, &p.Notes, &p.DocumentHandle, &p.PolicyText,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("policy not found")
	}
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &p.RequiredDocuments); err != nil {
			return nil, fmt.Errorf("decode required documents of policy %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func nonNilDocs(docs []documents.RequiredDocument) []documents.RequiredDocument {
	if docs == nil {
		return []documents.RequiredDocument{}
	}
	return docs
}
