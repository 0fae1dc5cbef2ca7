package shiftsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeCalendarClient struct {
	events map[string][]RawEvent
	errs   map[string]error

	mu    sync.Mutex
	calls []string
}

func (c *fakeCalendarClient) FetchEvents(_ context.Context, calendarID string, _ TimeWindow, _ string) ([]RawEvent, error) {
	c.mu.Lock()
	c.calls = append(c.calls, calendarID)
	c.mu.Unlock()
	if err, ok := c.errs[calendarID]; ok {
		return nil, err
	}
	return c.events[calendarID], nil
}

type capturingPublisher struct {
	reports []SyncReport
}

func (p *capturingPublisher) Publish(report SyncReport) {
	p.reports = append(p.reports, report)
}

func acceptAllGuard(t *testing.T) *TokenGuard {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"expires_in":3600}`)
	}))
	t.Cleanup(server.Close)
	return NewTokenGuard(TokenGuardOptions{IntrospectURL: server.URL, HTTPClient: server.Client()})
}

func testDirectory() *StaticDirectory {
	return NewStaticDirectory([]UserEntry{{
		ID:           "user_1",
		RefreshToken: "refresh_1",
		Calendars: map[string]string{
			"main":  "provider-main@group.calendar.google.com",
			"night": "provider-night@group.calendar.google.com",
		},
	}})
}

func shiftEvent(name, start, end string) RawEvent {
	return RawEvent{
		Title: name,
		Start: &EventTime{DateTime: start},
		End:   &EventTime{DateTime: end},
	}
}

func newTestOrchestrator(t *testing.T, client CalendarClient, store ShiftStore, publisher ReportPublisher) *Orchestrator {
	t.Helper()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Directory:  testDirectory(),
		Client:     client,
		Guard:      acceptAllGuard(t),
		Reconciler: NewReconciler(store),
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return orchestrator
}

func TestSyncPersistsAggregatedHours(t *testing.T) {
	client := &fakeCalendarClient{events: map[string][]RawEvent{
		"provider-main@group.calendar.google.com": {
			shiftEvent("Alice", "2025-06-02T09:00:00Z", "2025-06-02T17:00:00Z"),
			shiftEvent("Alice", "2025-06-02T18:00:00Z", "2025-06-02T20:00:00Z"),
			shiftEvent("★募集", "2025-06-03T09:00:00Z", "2025-06-03T17:00:00Z"),
		},
	}}
	store := NewMemoryShiftStore()
	publisher := &capturingPublisher{}
	orchestrator := newTestOrchestrator(t, client, store, publisher)

	report, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "user_1",
		Year:        2025,
		Month:       6,
		CalendarIDs: []string{"main"},
		AccessToken: "tok_1",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "main" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("unexpected failures: %+v", report.Failed)
	}

	record, err := store.Get(context.Background(), RecordKey{Year: 2025, Month: 6, CalendarID: "main", Employee: "Alice"})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.TotalHours != 10 {
		t.Fatalf("expected 10 hours, got %v", record.TotalHours)
	}
	if len(publisher.reports) != 1 {
		t.Fatalf("expected one published report, got %d", len(publisher.reports))
	}
}

func TestSyncFailedCalendarDoesNotAbortSiblings(t *testing.T) {
	client := &fakeCalendarClient{
		events: map[string][]RawEvent{
			"provider-main@group.calendar.google.com": {
				shiftEvent("Alice", "2025-06-02T09:00:00Z", "2025-06-02T17:00:00Z"),
			},
		},
		errs: map[string]error{
			"provider-night@group.calendar.google.com": &FetchError{CalendarID: "provider-night@group.calendar.google.com", StatusCode: 403, Message: "forbidden"},
		},
	}
	store := NewMemoryShiftStore()
	orchestrator := newTestOrchestrator(t, client, store, nil)

	report, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "user_1",
		Year:        2025,
		Month:       6,
		CalendarIDs: []string{"main", "night"},
		AccessToken: "tok_1",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "main" {
		t.Fatalf("unexpected succeeded set: %+v", report.Succeeded)
	}
	if len(report.Failed) != 1 || report.Failed[0].CalendarID != "night" || report.Failed[0].Reason != FailReasonFetch {
		t.Fatalf("unexpected failed set: %+v", report.Failed)
	}

	if _, err := store.Get(context.Background(), RecordKey{Year: 2025, Month: 6, CalendarID: "main", Employee: "Alice"}); err != nil {
		t.Fatalf("healthy calendar must still persist: %v", err)
	}
}

func TestSyncUnmappedCalendarReportedNotFetched(t *testing.T) {
	client := &fakeCalendarClient{events: map[string][]RawEvent{
		"provider-main@group.calendar.google.com": nil,
	}}
	orchestrator := newTestOrchestrator(t, client, NewMemoryShiftStore(), nil)

	report, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "user_1",
		Year:        2025,
		Month:       6,
		CalendarIDs: []string{"main", "ghost"},
		AccessToken: "tok_1",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].CalendarID != "ghost" || report.Failed[0].Reason != FailReasonMapping {
		t.Fatalf("unexpected failed set: %+v", report.Failed)
	}
	for _, called := range client.calls {
		if called == "ghost" {
			t.Fatalf("unmapped calendar must never reach the provider")
		}
	}
}

func TestSyncUnknownUserIsUnauthenticated(t *testing.T) {
	orchestrator := newTestOrchestrator(t, &fakeCalendarClient{}, NewMemoryShiftStore(), nil)

	_, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "nobody",
		Year:        2025,
		Month:       6,
		CalendarIDs: []string{"main"},
		AccessToken: "tok_1",
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSyncValidatesRequest(t *testing.T) {
	orchestrator := newTestOrchestrator(t, &fakeCalendarClient{}, NewMemoryShiftStore(), nil)

	cases := []SyncRequest{
		{UserID: "user_1", Year: 2025, Month: 0, CalendarIDs: []string{"main"}, AccessToken: "tok"},
		{UserID: "user_1", Year: 2025, Month: 13, CalendarIDs: []string{"main"}, AccessToken: "tok"},
		{UserID: "user_1", Year: 2025, Month: 6, AccessToken: "tok"},
	}
	for _, req := range cases {
		if _, err := orchestrator.Sync(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("request %+v: expected ErrInvalidInput, got %v", req, err)
		}
	}
}

func TestSyncZeroYearDefaultsToCurrentYear(t *testing.T) {
	client := &fakeCalendarClient{events: map[string][]RawEvent{
		"provider-main@group.calendar.google.com": {
			shiftEvent("Alice", "2025-06-02T09:00:00Z", "2025-06-02T17:00:00Z"),
		},
	}}
	store := NewMemoryShiftStore()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Directory:  testDirectory(),
		Client:     client,
		Guard:      acceptAllGuard(t),
		Reconciler: NewReconciler(store),
		Now:        func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	report, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "user_1",
		Month:       6,
		CalendarIDs: []string{"main"},
		AccessToken: "tok_1",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if report.Year != 2025 {
		t.Fatalf("expected year 2025, got %d", report.Year)
	}
	if _, err := store.Get(context.Background(), RecordKey{Year: 2025, Month: 6, CalendarID: "main", Employee: "Alice"}); err != nil {
		t.Fatalf("record missing under current year: %v", err)
	}
}

func TestSyncRefreshedTokenSurfacesInReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"tok_new","token_type":"Bearer","expires_in":3600}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	guard := NewTokenGuard(TokenGuardOptions{
		IntrospectURL: server.URL + "/tokeninfo",
		TokenURL:      server.URL + "/token",
		HTTPClient:    server.Client(),
	})
	client := &fakeCalendarClient{events: map[string][]RawEvent{
		"provider-main@group.calendar.google.com": nil,
	}}
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Directory:  testDirectory(),
		Client:     client,
		Guard:      guard,
		Reconciler: NewReconciler(NewMemoryShiftStore()),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	report, err := orchestrator.Sync(context.Background(), SyncRequest{
		UserID:      "user_1",
		Year:        2025,
		Month:       6,
		CalendarIDs: []string{"main"},
		AccessToken: "tok_stale",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if report.RefreshedToken != "tok_new" {
		t.Fatalf("expected rotated token in report, got %q", report.RefreshedToken)
	}
}
