package shiftsync

import (
	"testing"
	"time"
)

func TestEventTimeResolveDateTime(t *testing.T) {
	et := &EventTime{DateTime: "2025-06-02T09:00:00+09:00"}
	resolved, ok := et.Resolve()
	if !ok {
		t.Fatalf("expected a resolved timestamp")
	}
	want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if !resolved.Equal(want) {
		t.Fatalf("got %s, want %s", resolved, want)
	}
}

func TestEventTimeResolveDateOnly(t *testing.T) {
	et := &EventTime{Date: "2025-06-02"}
	resolved, ok := et.Resolve()
	if !ok {
		t.Fatalf("expected a resolved timestamp")
	}
	if !resolved.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only values must resolve to midnight UTC, got %s", resolved)
	}
}

func TestEventTimeResolveUnusable(t *testing.T) {
	cases := []*EventTime{
		nil,
		{},
		{DateTime: "not-a-time"},
		{Date: "06/02/2025"},
	}
	for _, et := range cases {
		if _, ok := et.Resolve(); ok {
			t.Fatalf("expected %+v to be unusable", et)
		}
	}
}

func TestDecodeEventsPage(t *testing.T) {
	page, err := decodeEventsPage([]byte(`{
		"items": [
			{"summary": "Alice", "start": {"dateTime": "2025-06-02T09:00:00Z"}, "end": {"dateTime": "2025-06-02T17:00:00Z"}},
			{"summary": "Bob", "start": {"date": "2025-06-03"}, "end": {"date": "2025-06-04"}}
		],
		"nextPageToken": "page2"
	}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "page2" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[1].Start.Date != "2025-06-03" {
		t.Fatalf("date granularity lost: %+v", page.Items[1])
	}
}

func TestDecodeEventsPageRejectsBadShapes(t *testing.T) {
	cases := []string{
		`not json`,
		`{"kind":"calendar#events"}`,
		`{"items":"nope"}`,
		`{"items":[],"nextPageToken":7}`,
	}
	for _, body := range cases {
		if _, err := decodeEventsPage([]byte(body)); err == nil {
			t.Fatalf("expected body %q to be rejected", body)
		}
	}
}
