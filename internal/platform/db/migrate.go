package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID serializes concurrent `migrate up` runs against one database.
const migrationLockID = 0x636c61696d64 // "claimd"

// Migration is one numbered SQL file, e.g. 004_claims.sql.
type Migration struct {
	Version  int
	Name     string // label without prefix or extension: "claims"
	File     string
	SQL      string
	Checksum string
}

// MigrationStatus is one row of `migrate status`.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Modified is set when the file changed after it was applied.
	Modified bool
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
}

// Migrator applies the numbered SQL files in src to a schema and records
// each one in schema_migrations.
type Migrator struct {
	pool *pgxpool.Pool
	src  fs.FS
}

func NewMigrator(pool *pgxpool.Pool, src fs.FS) *Migrator {
	return &Migrator{pool: pool, src: src}
}

// parseMigrationName splits "004_claims.sql" into 4 and "claims".
func parseMigrationName(file string) (int, string, bool) {
	if path.Ext(file) != ".sql" {
		return 0, "", false
	}
	prefix, label, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), "_")
	if !ok || label == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, label, true
}

// Load reads the migrations in version order. Files without a numeric prefix
// are ignored; two files claiming the same version are an error.
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.src, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, label, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(m.src, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     label,
			File:     entry.Name(),
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// pending returns the migrations still to run. An applied migration whose
// file has since changed stops the run.
func pending(migrations []Migration, applied map[int]appliedMigration) ([]Migration, error) {
	var out []Migration
	for _, mig := range migrations {
		rec, ok := applied[mig.Version]
		if !ok {
			out = append(out, mig)
			continue
		}
		if rec.checksum != "" && rec.checksum != mig.Checksum {
			return nil, fmt.Errorf("migration %s was modified after it was applied", mig.File)
		}
	}
	return out, nil
}

func statuses(migrations []Migration, applied map[int]appliedMigration) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		s := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if rec, ok := applied[mig.Version]; ok {
			at := rec.appliedAt
			s.Applied = true
			s.AppliedAt = &at
			s.Modified = rec.checksum != "" && rec.checksum != mig.Checksum
		}
		out = append(out, s)
	}
	return out
}

// Up applies every pending migration, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migrations, err := m.Load()
	if err != nil {
		return 0, err
	}
	if err := m.ensureLedger(ctx, schema); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx, schema)
	if err != nil {
		return 0, err
	}
	todo, err := pending(migrations, applied)
	if err != nil {
		return 0, err
	}

	for i, mig := range todo {
		if err := m.apply(ctx, schema, mig); err != nil {
			return i, fmt.Errorf("apply %s: %w", mig.File, err)
		}
	}
	return len(todo), nil
}

func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, err := m.Load()
	if err != nil {
		return nil, err
	}
	if err := m.ensureLedger(ctx, schema); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}
	return statuses(migrations, applied), nil
}

func (m *Migrator) ensureLedger(ctx context.Context, schema string) error {
	if !ValidSchema(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	_, err := m.pool.Exec(ctx, fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %[1]s;
		CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, schema))
	if err != nil {
		return fmt.Errorf("create migration ledger in %s: %w", schema, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context, schema string) (map[int]appliedMigration, error) {
	rows, err := m.pool.Query(ctx,
		fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("read migration ledger in %s: %w", schema, err)
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var v int
		var rec appliedMigration
		if err := rows.Scan(&v, &rec.checksum, &rec.appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		out[v] = rec
	}
	return out, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var done bool
		if err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s.schema_migrations WHERE version = $1)`, schema),
			mig.Version,
		).Scan(&done); err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL search_path TO %s, public`, schema)); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s.schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`, schema),
			mig.Version, mig.Name, mig.Checksum)
		return err
	})
}
