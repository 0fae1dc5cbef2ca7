package shiftsync

import (
	"strings"
)

// DefaultExcludeMarker matches the recruitment "open slot" events that must
// not count toward anyone's hours.
const DefaultExcludeMarker = "募集"

// ShiftDetail is a single worked interval. Hours is computed once at
// aggregation time and never recomputed from persisted data.
type ShiftDetail struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Hours float64 `json:"hours"`
}

// EmployeeAggregate is one employee's computed total for one calendar and
// month. Details keep fetch order; they are the audit trail shown to users.
type EmployeeAggregate struct {
	TotalHours float64       `json:"totalHours"`
	Details    []ShiftDetail `json:"details"`
}

// NameStrategy derives the employee identity from an event title. An empty
// return means the event carries no usable identity and is skipped.
type NameStrategy func(title string) string

// ExactTitleName uses the whole trimmed title as the employee name.
func ExactTitleName(title string) string {
	return strings.TrimSpace(title)
}

// FirstTokenName uses the leading whitespace-delimited token of the title.
func FirstTokenName(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NameStrategyByName resolves a configured strategy name. Unknown names fall
// back to the exact-title strategy.
func NameStrategyByName(name string) NameStrategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "first_token", "first-token", "firsttoken":
		return FirstTokenName
	default:
		return ExactTitleName
	}
}

type AggregatorOptions struct {
	NameStrategy  NameStrategy
	ExcludeMarker string
}

// Aggregator turns raw calendar events into per-employee shift aggregates.
type Aggregator struct {
	nameStrategy  NameStrategy
	excludeMarker string
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	strategy := opts.NameStrategy
	if strategy == nil {
		strategy = ExactTitleName
	}
	marker := opts.ExcludeMarker
	if marker == "" {
		marker = DefaultExcludeMarker
	}
	return &Aggregator{
		nameStrategy:  strategy,
		excludeMarker: marker,
	}
}

// Aggregate maps employee name to aggregate. Events are consumed in input
// order, which is the provider's start-time ascending order, and detail
// sequences preserve it. Skipped entirely: events whose title contains the
// exclusion marker, events without a usable title, and events missing either
// timestamp.
func (a *Aggregator) Aggregate(events []RawEvent) map[string]*EmployeeAggregate {
	byName := make(map[string]*EmployeeAggregate)
	for _, event := range events {
		title := strings.TrimSpace(event.Title)
		if title == "" {
			continue
		}
		if strings.Contains(title, a.excludeMarker) {
			continue
		}
		name := a.nameStrategy(title)
		if name == "" {
			continue
		}
		start, ok := event.Start.Resolve()
		if !ok {
			continue
		}
		end, ok := event.End.Resolve()
		if !ok {
			continue
		}
		hours := end.Sub(start).Hours()

		aggregate, exists := byName[name]
		if !exists {
			aggregate = &EmployeeAggregate{Details: make([]ShiftDetail, 0, 1)}
			byName[name] = aggregate
		}
		aggregate.TotalHours += hours
		aggregate.Details = append(aggregate.Details, ShiftDetail{
			Start: rawTimestamp(event.Start),
			End:   rawTimestamp(event.End),
			Hours: hours,
		})
	}
	return byName
}

// rawTimestamp preserves the provider's own representation in the audit
// trail, matching whichever granularity the event carried.
func rawTimestamp(t *EventTime) string {
	if t == nil {
		return ""
	}
	if strings.TrimSpace(t.DateTime) != "" {
		return strings.TrimSpace(t.DateTime)
	}
	return strings.TrimSpace(t.Date)
}
