package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	applog "github.com/crewhours/shiftsync/internal/log"
	"github.com/crewhours/shiftsync/internal/shiftsync"
)

type ServerConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	orchestrator *shiftsync.Orchestrator
	store        shiftsync.ShiftStore
	hub          *ReportHub
	cfg          ServerConfig
	rateLimiter  *rateLimiter
	now          func() time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(orchestrator *shiftsync.Orchestrator, store shiftsync.ShiftStore, hub *ReportHub) *Server {
	return NewServerWithConfig(orchestrator, store, hub, ServerConfig{})
}

func NewServerWithConfig(orchestrator *shiftsync.Orchestrator, store shiftsync.ShiftStore, hub *ReportHub, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	if hub == nil {
		hub = NewReportHub()
	}
	return &Server{
		orchestrator: orchestrator,
		store:        store,
		hub:          hub,
		cfg:          cfg,
		rateLimiter:  limiter,
		now:          time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/shifts/sync" && r.Method == http.MethodPost:
		s.handleSync(w, r)
	case r.URL.Path == "/v1/shifts/hours" && r.Method == http.MethodGet:
		s.handleHours(w, r)
	case r.URL.Path == "/v1/shifts/watch" && r.Method == http.MethodGet:
		s.handleWatch(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

type syncRequestBody struct {
	Month       int      `json:"month"`
	CalendarIDs []string `json:"calendar_ids"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	accessToken, userID, ok := s.requireSession(w, r, correlationID)
	if !ok {
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(userID, s.now().UTC()) {
		retryAfter := int(s.rateLimiter.window.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	var body syncRequestBody
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}

	report, err := s.orchestrator.Sync(r.Context(), shiftsync.SyncRequest{
		UserID:      userID,
		Month:       body.Month,
		CalendarIDs: body.CalendarIDs,
		AccessToken: accessToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, shiftsync.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_input", "month must be 1-12 and at least one calendar id is required", correlationID)
		case errors.Is(err, shiftsync.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or unrefreshable credential", correlationID)
		default:
			applog.Error("sync failed", err, "user", userID)
			writeError(w, http.StatusInternalServerError, "internal_error", "sync failed", correlationID)
		}
		return
	}

	if report.RefreshedToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     "accessToken",
			Value:    report.RefreshedToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if len(report.Succeeded) == 0 {
		writeError(w, http.StatusBadGateway, "upstream_failed", "no calendar could be synced", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHours(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if _, _, ok := s.requireSession(w, r, correlationID); !ok {
		return
	}
	q := r.URL.Query()
	month, err := strconv.Atoi(strings.TrimSpace(q.Get("month")))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid_input", "month must be 1-12", correlationID)
		return
	}
	calendarIDs := splitCommaList(q.Get("calendar_ids"))
	if len(calendarIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "at least one calendar id is required", correlationID)
		return
	}

	view, err := shiftsync.ReadHours(r.Context(), s.store, s.now().UTC().Year(), month, calendarIDs)
	if err != nil {
		if errors.Is(err, shiftsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid query", correlationID)
			return
		}
		applog.Error("hours read failed", err, "month", month)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read hours", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// requireSession extracts the provider access token and user id issued by
// the external auth flow. The engine consumes sessions, it never mints them.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, correlationID string) (accessToken, userID string, ok bool) {
	tokenCookie, err := r.Cookie("accessToken")
	if err != nil || strings.TrimSpace(tokenCookie.Value) == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing accessToken cookie", correlationID)
		return "", "", false
	}
	userCookie, err := r.Cookie("userId")
	if err != nil || strings.TrimSpace(userCookie.Value) == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing userId cookie", correlationID)
		return "", "", false
	}
	return strings.TrimSpace(tokenCookie.Value), strings.TrimSpace(userCookie.Value), true
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
