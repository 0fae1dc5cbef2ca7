package shiftsync

import (
	"errors"
	"testing"
)

func TestNewPostgresShiftStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresShiftStore("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDecodeDetails(t *testing.T) {
	details, err := decodeDetails(`[{"start":"2025-06-02T09:00:00Z","end":"2025-06-02T17:00:00Z","hours":8}]`)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(details) != 1 || details[0].Hours != 8 {
		t.Fatalf("unexpected details: %+v", details)
	}

	for _, raw := range []string{"", "  ", "null"} {
		details, err := decodeDetails(raw)
		if err != nil || details != nil {
			t.Fatalf("raw %q: expected empty result, got %v, %v", raw, details, err)
		}
	}

	if _, err := decodeDetails("{broken"); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	cases := map[string]string{
		"shift_records":  `"shift_records"`,
		`weird"name`:     `"weird""name"`,
		" shift_records": `"shift_records"`,
		"":               `""`,
	}
	for in, want := range cases {
		if got := postgresQuoteIdentifier(in); got != want {
			t.Fatalf("quote %q: got %s, want %s", in, got, want)
		}
	}
}
