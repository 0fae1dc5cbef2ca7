package shiftsync

import (
	"strings"
	"sync"
)

// CalendarDirectory maps a user's opaque calendar identifiers to the
// provider's real calendar identifiers and holds the user's stored refresh
// credential. Session issuance lives elsewhere; the engine only reads.
type CalendarDirectory interface {
	// Resolve returns opaque id -> provider id for the requested set.
	// Unknown calendar ids are silently dropped, not errored.
	Resolve(userID string, calendarIDs []string) (map[string]string, error)
	RefreshToken(userID string) (string, error)
}

// UserEntry is one user's directory record.
type UserEntry struct {
	ID           string
	RefreshToken string
	// Calendars maps opaque calendar id to provider calendar id.
	Calendars map[string]string
}

// StaticDirectory is an in-memory directory whose contents can be replaced
// wholesale, which is how config hot-reload feeds it.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]UserEntry
}

func NewStaticDirectory(entries []UserEntry) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(entries)
	return d
}

// Replace swaps the directory contents atomically.
func (d *StaticDirectory) Replace(entries []UserEntry) {
	users := make(map[string]UserEntry, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		calendars := make(map[string]string, len(entry.Calendars))
		for opaque, provider := range entry.Calendars {
			if strings.TrimSpace(opaque) == "" || strings.TrimSpace(provider) == "" {
				continue
			}
			calendars[opaque] = provider
		}
		users[id] = UserEntry{
			ID:           id,
			RefreshToken: strings.TrimSpace(entry.RefreshToken),
			Calendars:    calendars,
		}
	}
	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
}

func (d *StaticDirectory) Resolve(userID string, calendarIDs []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[strings.TrimSpace(userID)]
	if !ok {
		return nil, ErrNotFound
	}
	resolved := make(map[string]string, len(calendarIDs))
	for _, opaque := range calendarIDs {
		if provider, ok := user.Calendars[opaque]; ok {
			resolved[opaque] = provider
		}
	}
	return resolved, nil
}

func (d *StaticDirectory) RefreshToken(userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[strings.TrimSpace(userID)]
	if !ok || user.RefreshToken == "" {
		return "", ErrNotFound
	}
	return user.RefreshToken, nil
}
