package shiftsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is the half-open interval [Min, Max) a fetch is scoped to.
type TimeWindow struct {
	Min time.Time
	Max time.Time
}

// MonthWindow returns the window from the first instant of the given month
// to the first instant of the following month, in UTC.
func MonthWindow(year, month int) TimeWindow {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return TimeWindow{Min: start, Max: start.AddDate(0, 1, 0)}
}

// CalendarClient retrieves all events for one calendar within a time window.
type CalendarClient interface {
	FetchEvents(ctx context.Context, calendarID string, window TimeWindow, token string) ([]RawEvent, error)
}

type CalendarClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	PageSize   int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPCalendarClient pages through the provider's event-list endpoint.
type HTTPCalendarClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPCalendarClient(opts CalendarClientOptions) *HTTPCalendarClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 250
	}
	if pageSize > 2500 {
		pageSize = 2500
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPCalendarClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		pageSize:   pageSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// FetchEvents collects every event in the window, following next-page tokens
// ordered by start time. On a terminal page failure it returns the events
// collected so far together with the error; the caller decides whether the
// partial result is usable.
func (c *HTTPCalendarClient) FetchEvents(ctx context.Context, calendarID string, window TimeWindow, token string) ([]RawEvent, error) {
	if strings.TrimSpace(calendarID) == "" {
		return nil, ErrInvalidInput
	}
	events := make([]RawEvent, 0)
	pageToken := ""
	for {
		page, err := c.fetchPage(ctx, calendarID, window, token, pageToken)
		if err != nil {
			return events, err
		}
		events = append(events, page.Items...)
		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *HTTPCalendarClient) fetchPage(ctx context.Context, calendarID string, window TimeWindow, token, pageToken string) (*eventsPage, error) {
	q := url.Values{}
	q.Set("timeMin", window.Min.Format(time.RFC3339))
	q.Set("timeMax", window.Max.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	requestURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(calendarID), q.Encode())

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, &FetchError{CalendarID: calendarID, Message: err.Error()}
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &FetchError{CalendarID: calendarID, Message: readErr.Error()}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			page, err := decodeEventsPage(body)
			if err != nil {
				return nil, &FetchError{CalendarID: calendarID, Message: err.Error()}
			}
			return page, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		message := strings.TrimSpace(string(body))
		var parsed struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Error.Message) != "" {
			message = parsed.Error.Message
		}
		return nil, &FetchError{CalendarID: calendarID, StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *HTTPCalendarClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
