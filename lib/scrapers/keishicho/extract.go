package keishicho

import (
	"context"
	"log/slog"
)

// Extract flattens a calendar into one record per cell, positionally
// aligned with the row's cells.
func Extract(calendar CalendarPage) []AvailabilityRecord {
	records := []AvailabilityRecord{}
	for _, row := range calendar.Rows {
		for _, cell := range row.Cells {
			records = append(records, AvailabilityRecord{
				Date:          cell.Date,
				Facility:      row.Facility,
				ApplicantType: row.ApplicantType,
				Status:        cell.Status,
				Link:          cell.Link,
			})
		}
	}
	return records
}

// Reservable keeps the reservable records. Everything else is dropped,
// unknown statuses included so they are never reported as open slots.
func Reservable(ctx context.Context, records []AvailabilityRecord) []AvailabilityRecord {
	out := []AvailabilityRecord{}
	for _, r := range records {
		switch r.Status {
		case StatusReservable:
			slog.InfoContext(ctx, "found available slot", "date", r.Date, "facility", r.Facility, "applicant_type", r.ApplicantType)
			out = append(out, r)
		case StatusUnavailable, StatusOutsideHours:
			slog.DebugContext(ctx, "slot not available", "date", r.Date, "applicant_type", r.ApplicantType, "status", r.Status)
		default:
			slog.DebugContext(ctx, "slot status unknown", "date", r.Date, "applicant_type", r.ApplicantType)
		}
	}
	return out
}
