package shiftsync

import (
	"context"
	"sort"
	"sync"
	"time"

	applog "github.com/crewhours/shiftsync/internal/log"
)

// SyncRequest asks for one ingestion-and-reconciliation run.
type SyncRequest struct {
	UserID      string
	Year        int // zero means the current year
	Month       int
	CalendarIDs []string
	AccessToken string
}

const (
	FailReasonMapping = "mapping"
	FailReasonFetch   = "fetch"
	FailReasonPersist = "persist"
)

type CalendarFailure struct {
	CalendarID string `json:"calendarId"`
	Reason     string `json:"reason"`
}

// SyncReport is the single summary a sync caller receives. Detailed
// per-calendar diagnostics are logged, not returned.
type SyncReport struct {
	Year       int               `json:"year"`
	Month      int               `json:"month"`
	Succeeded  []string          `json:"succeeded"`
	Failed     []CalendarFailure `json:"failed"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`

	// RefreshedToken is set when the token guard rotated the credential;
	// the transport layer persists it. Never serialized.
	RefreshedToken string `json:"-"`
}

// ReportPublisher receives completed sync reports (e.g. the websocket feed).
type ReportPublisher interface {
	Publish(report SyncReport)
}

type OrchestratorOptions struct {
	Directory  CalendarDirectory
	Client     CalendarClient
	Guard      *TokenGuard
	Reconciler *Reconciler
	Aggregator *Aggregator
	Publisher  ReportPublisher
	Now        func() time.Time
}

// Orchestrator fans the fetch+aggregate pipeline out across calendars and
// drives one reconciliation pass over the collected results.
type Orchestrator struct {
	directory  CalendarDirectory
	client     CalendarClient
	guard      *TokenGuard
	reconciler *Reconciler
	aggregator *Aggregator
	publisher  ReportPublisher
	now        func() time.Time
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Directory == nil || opts.Client == nil || opts.Guard == nil || opts.Reconciler == nil {
		return nil, ErrInvalidInput
	}
	aggregator := opts.Aggregator
	if aggregator == nil {
		aggregator = NewAggregator(AggregatorOptions{})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		directory:  opts.Directory,
		client:     opts.Client,
		guard:      opts.Guard,
		reconciler: opts.Reconciler,
		aggregator: aggregator,
		publisher:  opts.Publisher,
		now:        now,
	}, nil
}

type calendarResult struct {
	opaqueID   string
	aggregates map[string]*EmployeeAggregate
	err        error
}

// Sync validates the request, verifies the credential once, fetches and
// aggregates every resolvable calendar concurrently, then reconciles the
// joined result in a single pass. A failed calendar never aborts siblings.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (SyncReport, error) {
	report := SyncReport{Month: req.Month, StartedAt: o.now().UTC()}
	if req.Month < 1 || req.Month > 12 || len(req.CalendarIDs) == 0 {
		return report, ErrInvalidInput
	}
	year := req.Year
	if year == 0 {
		year = o.now().UTC().Year()
	}
	report.Year = year

	refreshToken, err := o.directory.RefreshToken(req.UserID)
	if err != nil {
		refreshToken = ""
	}
	token, refreshed, err := o.guard.EnsureValid(ctx, req.AccessToken, refreshToken)
	if err != nil {
		return report, err
	}
	if refreshed {
		report.RefreshedToken = token
		applog.Info("access token refreshed", "user", req.UserID)
	}

	resolved, err := o.directory.Resolve(req.UserID, req.CalendarIDs)
	if err != nil {
		return report, ErrUnauthenticated
	}

	window := MonthWindow(year, req.Month)
	results := make(chan calendarResult)
	var wg sync.WaitGroup
	fanout := 0
	for _, opaqueID := range req.CalendarIDs {
		providerID, ok := resolved[opaqueID]
		if !ok {
			applog.Info("calendar id not resolvable, skipping", "user", req.UserID, "calendar", opaqueID)
			report.Failed = append(report.Failed, CalendarFailure{CalendarID: opaqueID, Reason: FailReasonMapping})
			continue
		}
		fanout++
		wg.Add(1)
		go func(opaqueID, providerID string) {
			defer wg.Done()
			events, err := o.client.FetchEvents(ctx, providerID, window, token)
			if err != nil {
				results <- calendarResult{opaqueID: opaqueID, err: err}
				return
			}
			results <- calendarResult{opaqueID: opaqueID, aggregates: o.aggregator.Aggregate(events)}
		}(opaqueID, providerID)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	aggregates := make(map[string]map[string]*EmployeeAggregate, fanout)
	for result := range results {
		if result.err != nil {
			applog.Error("calendar fetch failed", result.err, "calendar", result.opaqueID)
			report.Failed = append(report.Failed, CalendarFailure{CalendarID: result.opaqueID, Reason: FailReasonFetch})
			continue
		}
		aggregates[result.opaqueID] = result.aggregates
	}

	if len(aggregates) > 0 {
		scope := SyncScope{Year: year, Month: req.Month}
		for opaqueID := range aggregates {
			scope.CalendarIDs = append(scope.CalendarIDs, opaqueID)
		}
		sort.Strings(scope.CalendarIDs)

		result, err := o.reconciler.Reconcile(ctx, scope, aggregates)
		if err != nil {
			applog.Error("reconciliation reported failures", err, "year", year, "month", req.Month)
		}
		for _, opaqueID := range scope.CalendarIDs {
			if _, failed := result.Failed[opaqueID]; failed {
				report.Failed = append(report.Failed, CalendarFailure{CalendarID: opaqueID, Reason: FailReasonPersist})
				continue
			}
			report.Succeeded = append(report.Succeeded, opaqueID)
		}
		applog.Info("sync reconciled", "year", year, "month", req.Month,
			"upserted", result.Upserted, "deleted", result.Deleted,
			"succeeded", len(report.Succeeded), "failed", len(report.Failed))
	}

	sort.Strings(report.Succeeded)
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].CalendarID < report.Failed[j].CalendarID
	})
	report.FinishedAt = o.now().UTC()
	if o.publisher != nil {
		o.publisher.Publish(report)
	}
	return report, nil
}
