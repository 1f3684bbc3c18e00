// Package store persists the location list and the last-selected pointer in a SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// LocationStore is the persistence contract used by the location service.
type LocationStore interface {
	ListLocations(ctx context.Context) ([]models.Location, error)
	GetLocation(ctx context.Context, name string) (models.Location, error)
	AddLocation(ctx context.Context, name string, lat, lon float64) error
	DeleteLocation(ctx context.Context, name string) error
	UpdateLocation(ctx context.Context, oldName, newName string, lat, lon float64) error
	Exists(ctx context.Context, name string) (bool, error)
	LastSelected(ctx context.Context) (string, bool, error)
	SetLastSelected(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS cities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS app_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_selected_city TEXT,
	updated_at TEXT
);
INSERT OR IGNORE INTO app_config (id, last_selected_city, updated_at) VALUES (1, NULL, NULL);
`

// SQLiteStore implements LocationStore on a single SQLite connection.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

type cityRow struct {
	Name      string  `db:"name"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
	CreatedAt string  `db:"created_at"`
}

func (r cityRow) location() models.Location {
	loc := models.Location{Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		loc.CreatedAt = t
	}
	return loc
}

// Open opens or creates the database at path and applies the schema.
// The pool is capped at one connection so the delete/rename transactions serialize with every other write.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStoreFault, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		observability.Component(logger, "store").Warn("could not set WAL mode", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set busy timeout: %v", ErrStoreFault, err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: observability.Component(logger, "store"),
		now:    time.Now,
	}
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables and the singleton config row if absent. Safe to call repeatedly.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrStoreFault, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection. Used by health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListLocations returns all locations ordered by name.
func (s *SQLiteStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	var rows []cityRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, latitude, longitude, created_at FROM cities ORDER BY name`); err != nil {
		observability.RecordStoreOp("list", "fault")
		return nil, fmt.Errorf("%w: list locations: %v", ErrStoreFault, err)
	}
	out := make([]models.Location, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.location())
	}
	observability.RecordStoreOp("list", "ok")
	return out, nil
}

// GetLocation returns the named location or ErrNotFound.
func (s *SQLiteStore) GetLocation(ctx context.Context, name string) (models.Location, error) {
	var row cityRow
	err := s.db.GetContext(ctx, &row, `SELECT name, latitude, longitude, created_at FROM cities WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		observability.RecordStoreOp("get", "not_found")
		return models.Location{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		observability.RecordStoreOp("get", "fault")
		return models.Location{}, fmt.Errorf("%w: get location: %v", ErrStoreFault, err)
	}
	observability.RecordStoreOp("get", "ok")
	return row.location(), nil
}

// AddLocation inserts a new location. A duplicate name yields ErrAlreadyExists and changes nothing.
func (s *SQLiteStore) AddLocation(ctx context.Context, name string, lat, lon float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cities (name, latitude, longitude, created_at) VALUES (?, ?, ?, ?)`,
		name, lat, lon, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordStoreOp("add", "already_exists")
			s.logger.Info("location already exists", zap.String("name", name))
			return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		observability.RecordStoreOp("add", "fault")
		return fmt.Errorf("%w: add location: %v", ErrStoreFault, err)
	}
	observability.RecordStoreOp("add", "ok")
	s.logger.Info("location added", zap.String("name", name))
	return nil
}

// DeleteLocation removes the named location and, in the same transaction, clears the
// selection pointer if it referenced that name.
func (s *SQLiteStore) DeleteLocation(ctx context.Context, name string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cities WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("%w: delete location: %v", ErrStoreFault, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: delete location: %v", ErrStoreFault, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE app_config SET last_selected_city = NULL, updated_at = ? WHERE id = 1 AND last_selected_city = ?`,
			s.now().UTC().Format(time.RFC3339Nano), name); err != nil {
			return fmt.Errorf("%w: clear selection: %v", ErrStoreFault, err)
		}
		return nil
	})
	s.record("delete", err)
	if err == nil {
		s.logger.Info("location deleted", zap.String("name", name))
	}
	return err
}

// UpdateLocation replaces oldName's row with newName and coordinates. When the name changes
// and the selection pointer equals oldName, the pointer moves to newName in the same transaction.
func (s *SQLiteStore) UpdateLocation(ctx context.Context, oldName, newName string, lat, lon float64) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE cities SET name = ?, latitude = ?, longitude = ? WHERE name = ?`,
			newName, lat, lon, oldName)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, newName)
			}
			return fmt.Errorf("%w: update location: %v", ErrStoreFault, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: update location: %v", ErrStoreFault, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, oldName)
		}
		if oldName == newName {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE app_config SET last_selected_city = ?, updated_at = ? WHERE id = 1 AND last_selected_city = ?`,
			newName, s.now().UTC().Format(time.RFC3339Nano), oldName); err != nil {
			return fmt.Errorf("%w: rename selection: %v", ErrStoreFault, err)
		}
		return nil
	})
	s.record("update", err)
	if err == nil {
		s.logger.Info("location updated", zap.String("old_name", oldName), zap.String("new_name", newName))
	}
	return err
}

// Exists reports whether a location with the exact name is stored.
func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM cities WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		observability.RecordStoreOp("exists", "ok")
		return false, nil
	}
	if err != nil {
		observability.RecordStoreOp("exists", "fault")
		return false, fmt.Errorf("%w: exists: %v", ErrStoreFault, err)
	}
	observability.RecordStoreOp("exists", "ok")
	return true, nil
}

// LastSelected returns the selection pointer. ok is false when it is NULL or empty.
func (s *SQLiteStore) LastSelected(ctx context.Context) (string, bool, error) {
	var name sql.NullString
	err := s.db.GetContext(ctx, &name, `SELECT last_selected_city FROM app_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		observability.RecordStoreOp("get_selected", "ok")
		return "", false, nil
	}
	if err != nil {
		observability.RecordStoreOp("get_selected", "fault")
		return "", false, fmt.Errorf("%w: last selected: %v", ErrStoreFault, err)
	}
	observability.RecordStoreOp("get_selected", "ok")
	if !name.Valid || name.String == "" {
		return "", false, nil
	}
	return name.String, true, nil
}

// SetLastSelected stores name as the selection pointer unconditionally. Names without a
// location row are accepted so callers can select before the add completes.
func (s *SQLiteStore) SetLastSelected(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err == nil && !exists {
		s.logger.Warn("selecting location that is not stored", zap.String("name", name))
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE app_config SET last_selected_city = ?, updated_at = ? WHERE id = 1`,
		name, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		observability.RecordStoreOp("set_selected", "fault")
		return fmt.Errorf("%w: set last selected: %v", ErrStoreFault, err)
	}
	observability.RecordStoreOp("set_selected", "ok")
	s.logger.Debug("selection saved", zap.String("name", name))
	return nil
}

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreFault, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreFault, err)
	}
	return nil
}

func (s *SQLiteStore) record(op string, err error) {
	switch {
	case err == nil:
		observability.RecordStoreOp(op, "ok")
	case errors.Is(err, ErrNotFound):
		observability.RecordStoreOp(op, "not_found")
	case errors.Is(err, ErrAlreadyExists):
		observability.RecordStoreOp(op, "already_exists")
	default:
		observability.RecordStoreOp(op, "fault")
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ LocationStore = (*SQLiteStore)(nil)
