package keishicho

import (
	"fmt"
	"strings"
	"time"
)

// Status is the availability of one calendar cell, read from the
// accessible label of its icon.
type Status int

const (
	StatusUnknown Status = iota
	StatusReservable
	StatusUnavailable
	StatusOutsideHours
)

var statusLabels = map[string]Status{
	"予約可能": StatusReservable,
	"空き無":  StatusUnavailable,
	"時間外":  StatusOutsideHours,
}

// ParseStatus maps an icon's aria-label onto a Status, unrecognized or
// empty labels are StatusUnknown.
func ParseStatus(label string) Status {
	status, ok := statusLabels[strings.TrimSpace(label)]
	if !ok {
		return StatusUnknown
	}
	return status
}

func (s Status) String() string {
	switch s {
	case StatusReservable:
		return "reservable"
	case StatusUnavailable:
		return "unavailable"
	case StatusOutsideHours:
		return "outside_hours"
	}
	return "unknown"
}

// AvailabilityRecord is one (date, facility, applicant type) cell.
type AvailabilityRecord struct {
	// Date is the column label as shown on the calendar ("08/17(Sun)"),
	// "MM/DD" when recovered from the cell itself.
	Date          string
	Facility      string
	ApplicantType string
	Status        Status
	// Link is the booking link embedded in the cell, if any.
	Link string
}

type NavigationMode int

const (
	TwoWeek NavigationMode = iota
	OneMonth
)

// Label is the value of the pager button that advances by this mode.
func (m NavigationMode) Label() string {
	if m == OneMonth {
		return "1か月後＞"
	}
	return "2週後＞"
}

// Selector locates the pager button for this mode.
func (m NavigationMode) Selector() string {
	return fmt.Sprintf(`input[value="%s"]`, m.Label())
}

func (m NavigationMode) String() string {
	if m == OneMonth {
		return "one_month"
	}
	return "two_week"
}

func ParseNavigationMode(s string) (NavigationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "two_week", "week", "2w":
		return TwoWeek, nil
	case "one_month", "month", "1m":
		return OneMonth, nil
	}
	return TwoWeek, fmt.Errorf("unknown navigation mode %q", s)
}

// Termination is the state a paginated scan stopped in.
type Termination int

const (
	Scanning Termination = iota
	EndDetected
	Exhausted
	Failed
)

func (t Termination) String() string {
	switch t {
	case Scanning:
		return "scanning"
	case EndDetected:
		return "end_detected"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "error"
	}
	return "unknown"
}

// NavigationState is owned by the paginator for the duration of a scan.
type NavigationState struct {
	PeriodIndex int
	Mode        NavigationMode
	Terminated  bool
}

// AggregateResult is the reservable slots of one complete scan, in the
// order they were scanned.
type AggregateResult struct {
	Records     []AvailabilityRecord
	GeneratedAt time.Time
	Mode        NavigationMode
	Periods     int
	Termination Termination
	// Warnings are the non fatal problems hit during the scan.
	Warnings []string
}
