package shiftsync

import (
	"context"
	"time"
)

// EmployeeHours is one row of the read-only hours projection.
type EmployeeHours struct {
	Name       string  `json:"name"`
	TotalHours float64 `json:"totalHours"`
	CalendarID string  `json:"calendarId"`
}

// HoursView is the consumer contract the reconciliation output satisfies:
// every persisted record in scope, plus the latest update timestamp per
// calendar.
type HoursView struct {
	HoursByName []EmployeeHours   `json:"hoursByName"`
	UpdateDate  map[string]string `json:"updateDate"`
}

// ReadHours projects persisted shift records for display. Calendars are read
// in request order; within a calendar, rows come back in the store's
// employee-name order.
func ReadHours(ctx context.Context, store ShiftStore, year, month int, calendarIDs []string) (HoursView, error) {
	view := HoursView{
		HoursByName: make([]EmployeeHours, 0),
		UpdateDate:  map[string]string{},
	}
	if year <= 0 || month < 1 || month > 12 || len(calendarIDs) == 0 {
		return view, ErrInvalidInput
	}
	latest := map[string]time.Time{}
	for _, calendarID := range calendarIDs {
		records, err := store.ListScope(ctx, year, month, calendarID)
		if err != nil {
			return view, err
		}
		for _, record := range records {
			view.HoursByName = append(view.HoursByName, EmployeeHours{
				Name:       record.Key.Employee,
				TotalHours: record.TotalHours,
				CalendarID: calendarID,
			})
			if record.UpdatedAt.After(latest[calendarID]) {
				latest[calendarID] = record.UpdatedAt
			}
		}
	}
	for calendarID, at := range latest {
		view.UpdateDate[calendarID] = at.UTC().Format(time.RFC3339)
	}
	return view, nil
}
