package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/teemow/oxd/internal/rp"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore keeps RPs in a SQLite database, one row per RP with the record
// encoded as JSON.
type SQLiteStore struct {
	db     *sql.DB
	keys   keyedMutex
	logger *slog.Logger
}

// NewSQLiteStore opens the database at dsn and applies pending migrations.
func NewSQLiteStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rp: %w", err)
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rps (oxd_id, op_host, data) VALUES (?, ?, ?)`,
		r.OxdID, r.OpHost, string(data),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r.OxdID)
		}
		return fmt.Errorf("inserting rp: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rp: %w", err)
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE rps SET op_host = ?, data = ?, updated_at = CURRENT_TIMESTAMP WHERE oxd_id = ?`,
		r.OpHost, string(data), r.OxdID,
	)
	if err != nil {
		return fmt.Errorf("updating rp: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.OxdID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, oxdID string) (rp.RP, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM rps WHERE oxd_id = ?`, oxdID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return rp.RP{}, fmt.Errorf("%w: %s", ErrNotFound, oxdID)
	}
	if err != nil {
		return rp.RP{}, fmt.Errorf("querying rp: %w", err)
	}

	var r rp.RP
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return rp.RP{}, fmt.Errorf("corrupted rp row %s: %w", oxdID, err)
	}
	return r, nil
}

func (s *SQLiteStore) RemoveAll(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rps`)
	if err != nil {
		return fmt.Errorf("deleting rps: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("removed all rps", "storage", "sqlite", "count", n)
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rps`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rps: %w", err)
	}
	return count, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
