package main

import (
	"testing"
	"time"

	"github.com/crewhours/shiftsync/internal/config"
)

func TestIntEnv(t *testing.T) {
	t.Setenv("SHIFTSYNC_TEST_INT", "42")
	if got := intEnv("SHIFTSYNC_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if got := intEnv("SHIFTSYNC_TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("got %d, want fallback 7", got)
	}
	t.Setenv("SHIFTSYNC_TEST_INT", "not-a-number")
	if got := intEnv("SHIFTSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d, want fallback 7", got)
	}
}

func TestInt64Env(t *testing.T) {
	t.Setenv("SHIFTSYNC_TEST_INT64", "1048576")
	if got := int64Env("SHIFTSYNC_TEST_INT64", 1); got != 1048576 {
		t.Fatalf("got %d, want 1048576", got)
	}
	t.Setenv("SHIFTSYNC_TEST_INT64", "nope")
	if got := int64Env("SHIFTSYNC_TEST_INT64", 1); got != 1 {
		t.Fatalf("got %d, want fallback 1", got)
	}
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("SHIFTSYNC_TEST_DURATION", "30s")
	if got := durationEnv("SHIFTSYNC_TEST_DURATION", time.Minute); got != 30*time.Second {
		t.Fatalf("got %s, want 30s", got)
	}
	t.Setenv("SHIFTSYNC_TEST_DURATION", "soon")
	if got := durationEnv("SHIFTSYNC_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("got %s, want fallback 1m", got)
	}
}

func TestDirectoryEntries(t *testing.T) {
	cfg := &config.Config{Users: []config.UserConfig{
		{
			ID:           "user_1",
			RefreshToken: "refresh_1",
			Calendars: []config.CalendarConfig{
				{UniqueID: "main", ProviderID: "main@group.calendar.google.com", Name: "Day"},
				{UniqueID: "night", ProviderID: "night@group.calendar.google.com", Name: "Night"},
			},
		},
		{ID: "user_2"},
	}}

	entries := directoryEntries(cfg)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.ID != "user_1" || first.RefreshToken != "refresh_1" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if first.Calendars["main"] != "main@group.calendar.google.com" || first.Calendars["night"] != "night@group.calendar.google.com" {
		t.Fatalf("unexpected calendar mapping: %+v", first.Calendars)
	}
	if len(entries[1].Calendars) != 0 {
		t.Fatalf("expected no calendars for user_2, got %+v", entries[1].Calendars)
	}
}
