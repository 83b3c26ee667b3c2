package organizations

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// queryable abstracts pgxpool.Pool, pgxpool.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// -- Hospital Repository --

type hospitalRepoPG struct {
	pool *pgxpool.Pool
}

func NewHospitalRepo(pool *pgxpool.Pool) HospitalRepository {
	return &hospitalRepoPG{pool: pool}
}

func (r *hospitalRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const hospitalColumns = `id, name, address, contact_info, admin_user_id, created_at, updated_at`

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospitals (id, name, address, contact_info, admin_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		h.ID, h.Name, h.Address, h.ContactInfo, h.AdminUserID,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, id))
}

func (r *hospitalRepoPG) List(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+hospitalColumns+` FROM hospitals ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectHospitals(rows)
	return out, total, err
}

func (r *hospitalRepoPG) SetAdmin(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE hospitals SET admin_user_id = $2, updated_at = NOW() WHERE id = $1`, id, userID)
	return err
}

func (r *hospitalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM hospitals WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Conflict("hospital still has claims or policies")
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("hospital not found")
	}
	return nil
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.Name, &h.Address, &h.ContactInfo, &h.AdminUserID, &h.CreatedAt, &h.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("hospital not found")
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func collectHospitals(rows pgx.Rows) ([]*Hospital, error) {
	var out []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// -- Insurer Repository --

type insurerRepoPG struct {
	pool *pgxpool.Pool
}

func NewInsurerRepo(pool *pgxpool.Pool) InsurerRepository {
	return &insurerRepoPG{pool: pool}
}

func (r *insurerRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const insurerColumns = `id, name, contact_info, admin_user_id, created_at, updated_at`

func (r *insurerRepoPG) Create(ctx context.Context, ic *InsuranceCompany) error {
	ic.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_companies (id, name, contact_info, admin_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		ic.ID, ic.Name, ic.ContactInfo, ic.AdminUserID,
	).Scan(&ic.CreatedAt, &ic.UpdatedAt)
}

func (r *insurerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InsuranceCompany, error) {
	return scanInsurer(r.conn(ctx).QueryRow(ctx, `SELECT `+insurerColumns+` FROM insurance_companies WHERE id = $1`, id))
}

func (r *insurerRepoPG) List(ctx context.Context, limit, offset int) ([]*InsuranceCompany, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM insurance_companies`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+insurerColumns+` FROM insurance_companies ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectInsurers(rows)
	return out, total, err
}

func (r *insurerRepoPG) SetAdmin(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE insurance_companies SET admin_user_id = $2, updated_at = NOW() WHERE id = $1`, id, userID)
	return err
}

func (r *insurerRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM insurance_companies WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Conflict("insurance company still has policies")
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance company not found")
	}
	return nil
}

func scanInsurer(row pgx.Row) (*InsuranceCompany, error) {
	var ic InsuranceCompany
	err := row.Scan(&ic.ID, &ic.Name, &ic.ContactInfo, &ic.AdminUserID, &ic.CreatedAt, &ic.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("insurance company not found")
	}
	if err != nil {
		return nil, err
	}
	return &ic, nil
}

func collectInsurers(rows pgx.Rows) ([]*InsuranceCompany, error) {
	var out []*InsuranceCompany
	for rows.Next() {
		ic, err := scanInsurer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

// -- Network Repository --

type networkRepoPG struct {
	pool *pgxpool.Pool
}

func NewNetworkRepo(pool *pgxpool.Pool) NetworkRepository {
	return &networkRepoPG{pool: pool}
}

func (r *networkRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *networkRepoPG) Link(ctx context.Context, insurerID, hospitalID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO network_links (insurer_id, hospital_id) VALUES ($1, $2)
		ON CONFLICT (insurer_id, hospital_id) DO NOTHING`, insurerID, hospitalID)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("hospital %s not found", hospitalID)
	}
	if err != nil {
		return fmt.Errorf("link hospital: %w", err)
	}
	return nil
}

func (r *networkRepoPG) Unlink(ctx context.Context, insurerID, hospitalID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM network_links WHERE insurer_id = $1 AND hospital_id = $2`, insurerID, hospitalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("hospital is not in the network")
	}
	return nil
}

func (r *networkRepoPG) IsLinked(ctx context.Context, insurerID, hospitalID uuid.UUID) (bool, error) {
	var linked bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM network_links WHERE insurer_id = $1 AND hospital_id = $2)`,
		insurerID, hospitalID).Scan(&linked)
	return linked, err
}

func (r *networkRepoPG) HospitalsForInsurer(ctx context.Context, insurerID uuid.UUID) ([]*Hospital, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT h.id, h.name, h.address, h.contact_info, h.admin_user_id, h.created_at, h.updated_at
		FROM hospitals h
		JOIN network_links n ON n.hospital_id = h.id
		WHERE n.insurer_id = $1
		ORDER BY h.name`, insurerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHospitals(rows)
}

func (r *networkRepoPG) InsurersForHospital(ctx context.Context, hospitalID uuid.UUID) ([]*InsuranceCompany, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, i.name, i.contact_info, i.admin_user_id, i.created_at, i.updated_at
		FROM insurance_companies i
		JOIN network_links n ON n.insurer_id = i.id
		WHERE n.hospital_id = $1
		ORDER BY i.name`, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInsurers(rows)
}
