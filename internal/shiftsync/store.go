package shiftsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// RecordKey identifies one persisted shift record. At most one record exists
// per key.
type RecordKey struct {
	Year       int
	Month      int
	CalendarID string
	Employee   string
}

func (k RecordKey) valid() bool {
	return k.Year > 0 && k.Month >= 1 && k.Month <= 12 &&
		strings.TrimSpace(k.CalendarID) != "" && strings.TrimSpace(k.Employee) != ""
}

// ShiftRecord is the persisted value for one employee, calendar and month.
// Each sync replaces the full value; records are never mutated incrementally.
type ShiftRecord struct {
	Key        RecordKey
	TotalHours float64
	Details    []ShiftDetail
	UpdatedAt  time.Time
}

// ShiftStore is the narrow persistence contract the engine consumes. Every
// operation is atomic at single-key granularity.
type ShiftStore interface {
	Get(ctx context.Context, key RecordKey) (ShiftRecord, error)
	Upsert(ctx context.Context, record ShiftRecord) error
	ListScope(ctx context.Context, year, month int, calendarID string) ([]ShiftRecord, error)
	Delete(ctx context.Context, key RecordKey) error
	Close() error
}

// MemoryShiftStore is a mutex-guarded in-process store, used in tests and as
// the memory:// backend.
type MemoryShiftStore struct {
	mu      sync.Mutex
	records map[RecordKey]ShiftRecord
}

func NewMemoryShiftStore() *MemoryShiftStore {
	return &MemoryShiftStore{records: map[RecordKey]ShiftRecord{}}
}

func (s *MemoryShiftStore) Get(_ context.Context, key RecordKey) (ShiftRecord, error) {
	if !key.valid() {
		return ShiftRecord{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return ShiftRecord{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryShiftStore) Upsert(_ context.Context, record ShiftRecord) error {
	if !record.Key.valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = cloneRecord(record)
	return nil
}

func (s *MemoryShiftStore) ListScope(_ context.Context, year, month int, calendarID string) ([]ShiftRecord, error) {
	if year <= 0 || month < 1 || month > 12 || strings.TrimSpace(calendarID) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShiftRecord, 0)
	for key, record := range s.records {
		if key.Year == year && key.Month == month && key.CalendarID == calendarID {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Employee < out[j].Key.Employee
	})
	return out, nil
}

func (s *MemoryShiftStore) Delete(_ context.Context, key RecordKey) error {
	if !key.valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryShiftStore) Close() error {
	return nil
}

func cloneRecord(record ShiftRecord) ShiftRecord {
	clone := record
	if record.Details != nil {
		clone.Details = append([]ShiftDetail(nil), record.Details...)
	}
	return clone
}
