package results

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

// Store is the sqlite results database. It complements the gob batch
// files: batches stay the unit of transfer between processes, the store
// is for querying accumulated trials across runs.
type Store struct {
	*sql.DB
}

// OpenStore opens (or creates) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("results: open store %s: %w", path, err)
	}
	return &Store{db}, nil
}

// MigrateUp applies all pending schema migrations from migrationsDir.
func (s *Store) MigrateUp(migrationsDir string) error {
	m, err := s.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	// The migrate instance is not closed: closing it would close the
	// underlying connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("results: migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty state; a
// fresh database reports version 0.
func (s *Store) MigrateVersion(migrationsDir string) (uint, bool, error) {
	m, err := s.newMigrate(migrationsDir)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate(migrationsDir string) (*migrate.Migrate, error) {
	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("results: resolve migrations dir: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("results: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", absPath), "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("results: migrate instance: %w", err)
	}
	return m, nil
}

// InsertBatch records a batch and all its trials in one transaction.
func (s *Store) InsertBatch(b *Batch) error {
	names, err := json.Marshal(b.ParamNames)
	if err != nil {
		return fmt.Errorf("results: marshal param names: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("results: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO batches (id, name, scale, seed, param_names) VALUES (?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Scale, int64(b.Seed), string(names),
	); err != nil {
		return fmt.Errorf("results: insert batch %s: %w", b.ID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO trials (batch_id, trial_index, ts, params, flag) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("results: prepare trial insert: %w", err)
	}
	defer stmt.Close()

	for i, tr := range b.Trials {
		params, err := json.Marshal(tr.Params)
		if err != nil {
			return fmt.Errorf("results: marshal trial %d params: %w", i, err)
		}
		if _, err := stmt.Exec(b.ID.String(), i, tr.TS, string(params), tr.Flag); err != nil {
			return fmt.Errorf("results: insert trial %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// TrialTS returns the test statistics of every stored trial for an
// analysis name at one flux scale, across all batches.
func (s *Store) TrialTS(name string, scale float64) ([]float64, error) {
	rows, err := s.Query(
		`SELECT t.ts FROM trials t JOIN batches b ON t.batch_id = b.id
		 WHERE b.name = ? AND b.scale = ? ORDER BY b.seed, t.trial_index`,
		name, scale,
	)
	if err != nil {
		return nil, fmt.Errorf("results: query trials: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ts float64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("results: scan trial: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Scales lists the distinct flux scales stored for an analysis name,
// ascending.
func (s *Store) Scales(name string) ([]float64, error) {
	rows, err := s.Query(
		`SELECT DISTINCT scale FROM batches WHERE name = ? ORDER BY scale`, name)
	if err != nil {
		return nil, fmt.Errorf("results: query scales: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("results: scan scale: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
