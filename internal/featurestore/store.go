// Package featurestore persists engineered feature matrices in SQL,
// stored column by column so a set round-trips with its exact column
// order.
package featurestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

const schemaFeatureSets = `
CREATE TABLE IF NOT EXISTS feature_sets (
    name TEXT PRIMARY KEY,
    row_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const schemaFeatureColumns = `
CREATE TABLE IF NOT EXISTS feature_columns (
    set_name TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (set_name, name)
)`

// SQLStore implements domain.FeatureStore using database/sql. Works
// with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a feature store based on configuration.
func New(cfg domain.StoreConfig) (domain.FeatureStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLStore{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range []string{schemaFeatureSets, schemaFeatureColumns} {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveFeatures stores a named feature set, replacing any previous set
// with the same name.
func (s *SQLStore) SaveFeatures(ctx context.Context, name string, f *frame.Frame) error {
	if name == "" {
		return fmt.Errorf("feature set name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM feature_columns WHERE set_name = ?`,
		`DELETE FROM feature_sets WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), name); err != nil {
			return fmt.Errorf("replace feature set: %w", err)
		}
	}

	insertSet := `INSERT INTO feature_sets (name, row_count, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, s.rebind(insertSet), name, f.Rows(), time.Now().UTC()); err != nil {
		return fmt.Errorf("save feature set: %w", err)
	}

	insertCol := `INSERT INTO feature_columns (set_name, position, name, data) VALUES (?, ?, ?, ?)`
	for pos, col := range f.Names() {
		data, err := json.Marshal(f.Column(col))
		if err != nil {
			return fmt.Errorf("encode column %s: %w", col, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(insertCol), name, pos, col, string(data)); err != nil {
			return fmt.Errorf("save column %s: %w", col, err)
		}
	}

	return tx.Commit()
}

// LoadFeatures retrieves a feature set with its original column order,
// returning domain.ErrNotFound for unknown names.
func (s *SQLStore) LoadFeatures(ctx context.Context, name string) (*frame.Frame, error) {
	var rowCount int
	query := `SELECT row_count FROM feature_sets WHERE name = ?`
	err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(&rowCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: feature set %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load feature set: %w", err)
	}

	query = `SELECT name, data FROM feature_columns WHERE set_name = ? ORDER BY position`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), name)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	defer rows.Close()

	f := frame.New(rowCount)
	for rows.Next() {
		var col, data string
		if err := rows.Scan(&col, &data); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		var values []float64
		if err := json.Unmarshal([]byte(data), &values); err != nil {
			return nil, fmt.Errorf("decode column %s: %w", col, err)
		}
		if err := f.Set(col, values); err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
	}
	return f, rows.Err()
}

// ListFeatureSets returns the stored set names, sorted.
func (s *SQLStore) ListFeatureSets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM feature_sets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list feature sets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
