package shiftsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EventTime carries the provider's dual timestamp granularity: either a full
// RFC3339 date-time or a date-only value for all-day events.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Resolve parses the timestamp at whichever granularity is present.
// Date-only values resolve to midnight UTC, so a date-only start/end pair
// spans whole days.
func (t *EventTime) Resolve() (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if raw := strings.TrimSpace(t.DateTime); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	if raw := strings.TrimSpace(t.Date); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

// RawEvent is the validated intermediate representation of one provider
// event. Fields the aggregator does not need are dropped at decode time.
type RawEvent struct {
	Title string     `json:"summary"`
	Start *EventTime `json:"start"`
	End   *EventTime `json:"end"`
}

type eventsPage struct {
	Items         []RawEvent `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

// eventsPageSchema pins down the page shape the fetcher relies on. Item
// fields stay optional: individually malformed entries are skipped by the
// aggregator, only a page that is not an items-list at all is rejected.
const eventsPageSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"summary": {"type": "string"},
					"start": {
						"type": "object",
						"properties": {
							"dateTime": {"type": "string"},
							"date": {"type": "string"}
						}
					},
					"end": {
						"type": "object",
						"properties": {
							"dateTime": {"type": "string"},
							"date": {"type": "string"}
						}
					}
				}
			}
		},
		"nextPageToken": {"type": "string"}
	}
}`

var (
	pageSchemaOnce sync.Once
	pageSchema     *jsonschema.Schema
	pageSchemaErr  error
)

func compiledPageSchema() (*jsonschema.Schema, error) {
	pageSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventsPageSchema))
		if err != nil {
			pageSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("events-page.json", doc); err != nil {
			pageSchemaErr = err
			return
		}
		pageSchema, pageSchemaErr = compiler.Compile("events-page.json")
	})
	return pageSchema, pageSchemaErr
}

// decodeEventsPage validates and decodes one page body from the provider.
func decodeEventsPage(body []byte) (*eventsPage, error) {
	schema, err := compiledPageSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("malformed page body: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("page body failed validation: %w", err)
	}
	var page eventsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("malformed page body: %w", err)
	}
	return &page, nil
}
