package shiftsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresShiftTableName   = "shift_records"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresShiftStore persists shift records in a single table keyed by
// (year, month, calendar_id, employee_name).
type PostgresShiftStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresShiftStore(dsn string) (*PostgresShiftStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresShiftStore{
		dsn:       dsn,
		tableName: postgresShiftTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresShiftStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				year INTEGER NOT NULL,
				month INTEGER NOT NULL,
				calendar_id TEXT NOT NULL,
				employee_name TEXT NOT NULL,
				total_hours DOUBLE PRECISION NOT NULL,
				details TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (year, month, calendar_id, employee_name)
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresShiftStore) Get(ctx context.Context, key RecordKey) (ShiftRecord, error) {
	if !key.valid() {
		return ShiftRecord{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return ShiftRecord{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT total_hours, details, updated_at
		FROM %s
		WHERE year = $1 AND month = $2 AND calendar_id = $3 AND employee_name = $4`,
		postgresQuoteIdentifier(s.tableName))
	var (
		totalHours float64
		detailsRaw string
		updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, query, key.Year, key.Month, key.CalendarID, key.Employee).
		Scan(&totalHours, &detailsRaw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ShiftRecord{}, ErrNotFound
	}
	if err != nil {
		return ShiftRecord{}, err
	}
	details, err := decodeDetails(detailsRaw)
	if err != nil {
		return ShiftRecord{}, err
	}
	return ShiftRecord{
		Key:        key,
		TotalHours: totalHours,
		Details:    details,
		UpdatedAt:  updatedAt,
	}, nil
}

func (s *PostgresShiftStore) Upsert(ctx context.Context, record ShiftRecord) error {
	if !record.Key.valid() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	detailsRaw, err := json.Marshal(record.Details)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (year, month, calendar_id, employee_name, total_hours, details, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (year, month, calendar_id, employee_name)
		DO UPDATE SET total_hours = EXCLUDED.total_hours, details = EXCLUDED.details, updated_at = EXCLUDED.updated_at`,
		postgresQuoteIdentifier(s.tableName))
	_, err = s.db.ExecContext(ctx, query,
		record.Key.Year, record.Key.Month, record.Key.CalendarID, record.Key.Employee,
		record.TotalHours, string(detailsRaw), record.UpdatedAt)
	return err
}

func (s *PostgresShiftStore) ListScope(ctx context.Context, year, month int, calendarID string) ([]ShiftRecord, error) {
	if year <= 0 || month < 1 || month > 12 || strings.TrimSpace(calendarID) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT employee_name, total_hours, details, updated_at
		FROM %s
		WHERE year = $1 AND month = $2 AND calendar_id = $3
		ORDER BY employee_name ASC`,
		postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, year, month, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ShiftRecord, 0)
	for rows.Next() {
		var (
			employee   string
			totalHours float64
			detailsRaw string
			updatedAt  time.Time
		)
		if err := rows.Scan(&employee, &totalHours, &detailsRaw, &updatedAt); err != nil {
			return nil, err
		}
		details, err := decodeDetails(detailsRaw)
		if err != nil {
			return nil, err
		}
		records = append(records, ShiftRecord{
			Key:        RecordKey{Year: year, Month: month, CalendarID: calendarID, Employee: employee},
			TotalHours: totalHours,
			Details:    details,
			UpdatedAt:  updatedAt,
		})
	}
	return records, rows.Err()
}

func (s *PostgresShiftStore) Delete(ctx context.Context, key RecordKey) error {
	if !key.valid() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE year = $1 AND month = $2 AND calendar_id = $3 AND employee_name = $4`,
		postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, key.Year, key.Month, key.CalendarID, key.Employee)
	return err
}

func (s *PostgresShiftStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeDetails(raw string) ([]ShiftDetail, error) {
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return nil, nil
	}
	var details []ShiftDetail
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, err
	}
	return details, nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
