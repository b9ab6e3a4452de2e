package keishicho

import (
	"errors"
	"fmt"
	"html"
	"strings"
)

type ErrorKind int

const (
	// PageLoadTimeout aborts the scan.
	PageLoadTimeout ErrorKind = iota
	// NavigationControlMissing means the pager button is absent or
	// disabled, the scan ends normally.
	NavigationControlMissing
	// NavigationSettleTimeout is a slow reload after paging, logged only.
	NavigationSettleTimeout
	// RowParseError skips a single row.
	RowParseError
	// MaxPeriodsReached stops the scan with whatever was collected.
	MaxPeriodsReached
	// NavigationFailed means the calendar or its next window could not
	// be loaded, it aborts the scan.
	NavigationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case PageLoadTimeout:
		return "page_load_timeout"
	case NavigationControlMissing:
		return "navigation_control_missing"
	case NavigationSettleTimeout:
		return "navigation_settle_timeout"
	case RowParseError:
		return "row_parse_error"
	case MaxPeriodsReached:
		return "max_periods_reached"
	case NavigationFailed:
		return "navigation_failed"
	}
	return "unknown"
}

// Fatal reports whether the kind aborts a scan.
func (k ErrorKind) Fatal() bool {
	return k == PageLoadTimeout || k == NavigationFailed
}

type ScanError struct {
	Kind ErrorKind
	// Period is the 1-based calendar window the error happened on, 0
	// when it happened before the first window.
	Period  int
	Message string
	Cause   error
}

func (e *ScanError) Error() string {
	msg := e.Message
	if e.Period > 0 {
		msg = fmt.Sprintf("period %d: %s", e.Period, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

func newScanError(kind ErrorKind, period int, message string, cause error) *ScanError {
	return &ScanError{
		Kind:    kind,
		Period:  period,
		Message: message,
		Cause:   cause,
	}
}

// IsKind reports whether err is a ScanError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var scanErr *ScanError
	return errors.As(err, &scanErr) && scanErr.Kind == kind
}

const (
	errorBrowserDependencies = "❌ Browser dependencies missing on server. Please contact administrator."
	errorParseEntities       = "❌ Error processing response. Please try again."
)

// SanitizeError turns a failed scan into text that is safe to send as a
// chat message with html parse mode.
func SanitizeError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Host system is missing dependencies"),
		strings.Contains(msg, "executable file not found"):
		return errorBrowserDependencies
	case strings.Contains(msg, "Can't parse entities"):
		return errorParseEntities
	}
	return "❌ Error during reservation check: " + html.EscapeString(msg)
}
