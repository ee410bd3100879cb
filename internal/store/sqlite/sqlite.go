// Package sqlite persists filings in a SQLite database through modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"filing-engine/internal/model"
	"filing-engine/internal/store"
)

// Store implements store.Repository on a single SQLite file. Personal and
// entity records share one table, told apart by kind.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ store.Repository = (*Store)(nil)

const (
	kindCorporate = "corporate"
	kindTrust     = "trust"
)

// Open creates or opens the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps read-modify-write merges serial and keeps a
	// ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("sqlite store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS filings (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		total_price REAL,
		reference_number TEXT NOT NULL DEFAULT '',
		progress_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		filing_id TEXT NOT NULL REFERENCES filings(id),
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		form_data_json TEXT NOT NULL DEFAULT '{}',
		is_complete INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_records_filing ON records(filing_id, position);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) CreateFiling(ctx context.Context, year int, filingType model.FilingType) (*model.Filing, error) {
	if _, ok := model.ParseFilingType(string(filingType)); !ok {
		return nil, fmt.Errorf("%w: filing type %q", store.ErrInvalidInput, filingType)
	}

	f := &model.Filing{ID: model.NewID(), Year: year, Type: filingType, Status: model.StatusDraft}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO filings (id, year, type, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Year, string(f.Type), f.Status, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert filing: %w", err)
	}

	var kind string
	switch filingType {
	case model.FilingCorporate:
		kind = kindCorporate
	case model.FilingTrust:
		kind = kindTrust
	}
	if kind != "" {
		e := &model.EntityFiling{ID: model.NewID(), FormData: model.FormData{}}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, filing_id, kind, position) VALUES (?, ?, ?, 0)`,
			e.ID, f.ID, kind,
		); err != nil {
			return nil, fmt.Errorf("insert entity record: %w", err)
		}
		if kind == kindCorporate {
			f.Corporate = e
		} else {
			f.Trust = e
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) GetFiling(ctx context.Context, filingID string) (*model.Filing, error) {
	f := &model.Filing{ID: filingID}
	var (
		filingType string
		total      sql.NullFloat64
		progress   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT year, type, status, total_price, reference_number, progress_json FROM filings WHERE id = ?`, filingID,
	).Scan(&f.Year, &filingType, &f.Status, &total, &f.ReferenceNumber, &progress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query filing: %w", err)
	}
	f.Type = model.FilingType(filingType)
	if total.Valid {
		f.TotalPrice = &total.Float64
	}
	if progress.Valid && progress.String != "" {
		var wp model.WizardProgress
		if err := json.Unmarshal([]byte(progress.String), &wp); err != nil {
			return nil, fmt.Errorf("decode progress of %s: %w", filingID, err)
		}
		f.WizardProgress = &wp
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, first_name, last_name, name, form_data_json, is_complete
		 FROM records WHERE filing_id = ? ORDER BY position`, filingID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, kind, first, last, name, raw string
			complete                         bool
		)
		if err := rows.Scan(&id, &kind, &first, &last, &name, &raw, &complete); err != nil {
			return nil, err
		}
		data := model.FormData{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode form data of %s: %w", id, err)
		}

		switch kind {
		case kindCorporate:
			f.Corporate = &model.EntityFiling{ID: id, Name: name, FormData: data, IsComplete: complete}
		case kindTrust:
			f.Trust = &model.EntityFiling{ID: id, Name: name, FormData: data, IsComplete: complete}
		default:
			f.PersonalFilings = append(f.PersonalFilings, model.PersonalFiling{
				ID:         id,
				Type:       model.Role(kind),
				FirstName:  first,
				LastName:   last,
				FormData:   data,
				IsComplete: complete,
			})
		}
	}
	return f, rows.Err()
}

func (s *Store) CreatePersonalFiling(ctx context.Context, filingID string, role model.Role) (*model.PersonalFiling, error) {
	if _, ok := model.ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: role %q", store.ErrInvalidInput, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var filingType, status string
	err = tx.QueryRowContext(ctx, `SELECT type, status FROM filings WHERE id = ?`, filingID).Scan(&filingType, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if model.FilingType(filingType) != model.FilingIndividual {
		return nil, fmt.Errorf("%w: %s filings have no personal filings", store.ErrInvalidInput, filingType)
	}

	var sameRole, position int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(CASE WHEN kind = ? THEN 1 END), COUNT(*) FROM records WHERE filing_id = ?`,
		string(role), filingID,
	).Scan(&sameRole, &position); err != nil {
		return nil, err
	}
	if role != model.RoleDependent && sameRole > 0 {
		return nil, fmt.Errorf("%w: filing %s already has a %s", store.ErrInvalidInput, filingID, role)
	}

	p := &model.PersonalFiling{ID: model.NewID(), Type: role, FormData: model.FormData{}}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (id, filing_id, kind, position) VALUES (?, ?, ?, ?)`,
		p.ID, filingID, string(role), position,
	); err != nil {
		return nil, fmt.Errorf("insert personal filing: %w", err)
	}
	if status == model.StatusDraft {
		if err := touch(ctx, tx, filingID, `status = ?`, model.StatusInProgress); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) SaveFormData(ctx context.Context, recordID string, changes model.FormData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw, filingID, status string
	err = tx.QueryRowContext(ctx,
		`SELECT r.form_data_json, r.filing_id, f.status FROM records r JOIN filings f ON f.id = r.filing_id WHERE r.id = ?`,
		recordID,
	).Scan(&raw, &filingID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", recordID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !model.Editable(status) {
		return fmt.Errorf("filing %s: %w", filingID, store.ErrSubmitted)
	}

	data := model.FormData{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("decode form data of %s: %w", recordID, err)
	}
	merged, err := json.Marshal(store.Merge(data, changes))
	if err != nil {
		return fmt.Errorf("encode form data of %s: %w", recordID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE records SET form_data_json = ? WHERE id = ?`, string(merged), recordID); err != nil {
		return err
	}
	if err := touch(ctx, tx, filingID, ""); err != nil {
		return err
	}
	s.logger.Debug("form data saved", zap.String("record", recordID), zap.Int("fields", len(changes)))
	return tx.Commit()
}

func (s *Store) MarkComplete(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET is_complete = 1 WHERE id = ?`, recordID)
	if err != nil {
		return err
	}
	return expectOne(res, "record", recordID)
}

func (s *Store) SaveProgress(ctx context.Context, filingID string, progress model.WizardProgress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE filings SET progress_json = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now().UTC(), filingID)
	if err != nil {
		return err
	}
	return expectOne(res, "filing", filingID)
}

func (s *Store) Submit(ctx context.Context, filingID string, totalPrice float64) (*model.Filing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	var year int
	err = tx.QueryRowContext(ctx, `SELECT status, year FROM filings WHERE id = ?`, filingID).Scan(&status, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !model.Editable(status) {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrSubmitted)
	}

	if err := touch(ctx, tx, filingID, `status = ?, total_price = ?, reference_number = ?`,
		model.StatusSubmitted, totalPrice, model.NewReferenceNumber(year)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.logger.Info("filing submitted", zap.String("filing", filingID), zap.Float64("total", totalPrice))
	return s.GetFiling(ctx, filingID)
}

// touch bumps updated_at, applying set (a column assignment list) when given.
func touch(ctx context.Context, tx *sql.Tx, filingID, set string, args ...any) error {
	query := `UPDATE filings SET updated_at = ?`
	params := []any{time.Now().UTC()}
	if set != "" {
		query += ", " + set
		params = append(params, args...)
	}
	query += ` WHERE id = ?`
	params = append(params, filingID)
	_, err := tx.ExecContext(ctx, query, params...)
	return err
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return nil
}
