package shiftsync

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildShiftStoreFromDSN selects a store backend by DSN scheme:
// memory:// for the in-process store, postgres:// or postgresql:// for the
// Postgres store. The returned store is intended to live for the process
// lifetime and be injected once at startup.
func BuildShiftStoreFromDSN(dsn string) (ShiftStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "memory", "inmemory":
		return NewMemoryShiftStore(), nil
	case "postgres", "postgresql":
		return NewPostgresShiftStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store dsn scheme: %s", parsed.Scheme)
	}
}
