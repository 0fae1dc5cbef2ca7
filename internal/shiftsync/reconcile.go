package shiftsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	applog "github.com/crewhours/shiftsync/internal/log"
)

// SyncScope bounds which persisted records a sync may touch. Records outside
// the requested calendars and month are never read or deleted.
type SyncScope struct {
	Year        int
	Month       int
	CalendarIDs []string
}

func (s SyncScope) lockKey() string {
	return fmt.Sprintf("%d-%02d", s.Year, s.Month)
}

// ReconcileResult reports the outcome of one reconciliation pass.
type ReconcileResult struct {
	Upserted int
	Deleted  int
	// Failed maps calendar id to the persistence error that excluded it
	// from the stale scan.
	Failed map[string]error
}

// Reconciler merges freshly aggregated totals into the store and removes
// records in scope that the latest fetch no longer represents.
type Reconciler struct {
	store ShiftStore
	now   func() time.Time

	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

func NewReconciler(store ShiftStore) *Reconciler {
	return &Reconciler{
		store:      store,
		now:        time.Now,
		scopeLocks: map[string]*sync.Mutex{},
	}
}

// scopeLock serializes reconciliation per (year, month). Fetch and
// aggregation run unboundedly in parallel; only the upsert-then-scan sequence
// is a critical section.
func (r *Reconciler) scopeLock(scope SyncScope) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scope.lockKey()
	lock, ok := r.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.scopeLocks[key] = lock
	}
	return lock
}

// Reconcile upserts every aggregate in the new result set, then scans the
// scope and deletes keys the pass did not touch. Upserts always precede the
// scan so a record being rewritten by this run can never be seen as stale.
//
// A calendar with any failed upsert loses its place in the touched set and is
// excluded from the stale scan: records that were never re-written must not
// be deleted. Other calendars proceed; reconciliation is best-effort, not
// transactional across calendars.
func (r *Reconciler) Reconcile(ctx context.Context, scope SyncScope, aggregates map[string]map[string]*EmployeeAggregate) (ReconcileResult, error) {
	result := ReconcileResult{Failed: map[string]error{}}
	if scope.Year <= 0 || scope.Month < 1 || scope.Month > 12 || len(scope.CalendarIDs) == 0 {
		return result, ErrInvalidInput
	}

	lock := r.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	updatedAt := r.now().UTC()
	touched := map[RecordKey]struct{}{}

	calendarIDs := append([]string(nil), scope.CalendarIDs...)
	sort.Strings(calendarIDs)

	for _, calendarID := range calendarIDs {
		byName := aggregates[calendarID]
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)

		calendarKeys := make([]RecordKey, 0, len(names))
		var failed error
		for _, name := range names {
			aggregate := byName[name]
			key := RecordKey{Year: scope.Year, Month: scope.Month, CalendarID: calendarID, Employee: name}
			record := ShiftRecord{
				Key:        key,
				TotalHours: aggregate.TotalHours,
				Details:    aggregate.Details,
				UpdatedAt:  updatedAt,
			}
			if err := r.store.Upsert(ctx, record); err != nil {
				failed = err
				break
			}
			calendarKeys = append(calendarKeys, key)
			result.Upserted++
		}
		if failed != nil {
			applog.Error("reconcile upsert failed", failed, "calendar", calendarID)
			result.Failed[calendarID] = failed
			continue
		}
		for _, key := range calendarKeys {
			touched[key] = struct{}{}
		}
	}

	for _, calendarID := range calendarIDs {
		if _, ok := result.Failed[calendarID]; ok {
			continue
		}
		existing, err := r.store.ListScope(ctx, scope.Year, scope.Month, calendarID)
		if err != nil {
			applog.Error("reconcile scope scan failed", err, "calendar", calendarID)
			result.Failed[calendarID] = err
			continue
		}
		for _, record := range existing {
			if _, ok := touched[record.Key]; ok {
				continue
			}
			if err := r.store.Delete(ctx, record.Key); err != nil {
				applog.Error("reconcile stale delete failed", err,
					"calendar", calendarID, "employee", record.Key.Employee)
				result.Failed[calendarID] = err
				break
			}
			result.Deleted++
		}
	}

	if len(result.Failed) > 0 {
		return result, fmt.Errorf("%w: %d of %d calendars failed", ErrPersistence, len(result.Failed), len(calendarIDs))
	}
	return result, nil
}
