package keishicho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"samezu-bot/lib/browser"
	"samezu-bot/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxPeriodsLimit is the hard cap on calendar windows per scan.
const MaxPeriodsLimit = 20

var (
	endOfDataMarkers = []string{
		"予約可能な日付がありません",
		"No available dates",
		"利用可能な日付がありません",
	}
	endOfDataSelectors = ".no-availability, .no-dates"
	loadingIndicators  = []string{".loading", ".spinner", `[aria-busy="true"]`}
)

type PaginatorOptions struct {
	Mode       NavigationMode
	MaxPeriods int
	Targets    []string
	// PageTimeout bounds waiting for the table on every window.
	PageTimeout time.Duration
	// LoadingIndicatorTimeout bounds waiting for spinners to go away,
	// running out of it is ignored.
	LoadingIndicatorTimeout time.Duration
	// DynamicContentWait is slept after the spinners, before reading.
	DynamicContentWait time.Duration
	// SettleDelay is slept after clicking the pager button.
	SettleDelay time.Duration
}

func (o PaginatorOptions) withDefaults() PaginatorOptions {
	if o.MaxPeriods <= 0 || o.MaxPeriods > MaxPeriodsLimit {
		o.MaxPeriods = MaxPeriodsLimit
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = time.Second * 30
	}
	return o
}

// ScanReport is everything a paginated scan collected.
type ScanReport struct {
	// Records holds the reservable records of every window, in scan order.
	Records     []AvailabilityRecord
	State       NavigationState
	Termination Termination
	Warnings    []error
}

// Paginator walks the calendar forward one window at a time until the
// site runs out of dates.
type Paginator struct {
	page browser.Page
	opts PaginatorOptions
}

func NewPaginator(page browser.Page, opts PaginatorOptions) Paginator {
	return Paginator{
		page: page,
		opts: opts.withDefaults(),
	}
}

// Run scans from the currently loaded window. The page must already be
// navigated to the calendar. A non nil error means the scan failed, the
// report then holds what was collected before the failure.
func (p Paginator) Run(ctx context.Context) (ScanReport, error) {
	ctx, span := tracer.Start(ctx, "Paginator.Run", trace.WithAttributes(
		attribute.String("mode", p.opts.Mode.String()),
		attribute.Int("max_periods", p.opts.MaxPeriods),
	))
	defer span.End()

	report := ScanReport{
		Records:     []AvailabilityRecord{},
		State:       NavigationState{Mode: p.opts.Mode},
		Termination: Scanning,
	}

	for report.Termination == Scanning {
		period := report.State.PeriodIndex + 1
		slog.InfoContext(ctx, "checking period", "mode", p.opts.Mode, "period", period)

		if err := ctx.Err(); err != nil {
			return p.fail(span, report, err)
		}
		if err := p.waitForTable(ctx, period); err != nil {
			return p.fail(span, report, err)
		}

		doc, err := Snapshot(ctx, p.page)
		if err != nil {
			return p.fail(span, report, newScanError(PageLoadTimeout, period, "read page content", err))
		}
		if reason, ended := endOfData(doc); ended {
			slog.InfoContext(ctx, "detected end of available dates", "period", period, "reason", reason)
			report.Termination = EndDetected
			break
		}

		calendar, rowErrs := ParseCalendarDocument(ctx, doc, p.opts.Targets)
		report.Warnings = append(report.Warnings, rowErrs...)
		found := Reservable(ctx, Extract(calendar))
		report.Records = append(report.Records, found...)
		report.State.PeriodIndex = period

		span.AddEvent("period", trace.WithAttributes(
			attribute.Int("period", period),
			attribute.Int("rows", len(calendar.Rows)),
			attribute.Int("reservable", len(found)),
		))
		if len(calendar.DateLabels) > 0 {
			slog.InfoContext(ctx, "checked dates",
				"period", period,
				"from", calendar.DateLabels[0],
				"to", calendar.DateLabels[len(calendar.DateLabels)-1],
				"reservable", len(found),
			)
		}

		termination, err := p.advance(ctx, &report)
		if err != nil {
			return p.fail(span, report, err)
		}
		report.Termination = termination
	}

	report.State.Terminated = true
	span.SetAttributes(
		attribute.String("termination", report.Termination.String()),
		attribute.Int("periods", report.State.PeriodIndex),
		attribute.Int("records", len(report.Records)),
	)
	return report, nil
}

func (p Paginator) fail(span trace.Span, report ScanReport, err error) (ScanReport, error) {
	report.Termination = Failed
	report.State.Terminated = true
	span.RecordError(err)
	span.SetStatus(codes.Error, "scan failed")
	return report, err
}

// waitForTable blocks until the calendar table is present with data.
func (p Paginator) waitForTable(ctx context.Context, period int) error {
	err := p.page.WaitForSelector(ctx, "table", browser.Attached, p.opts.PageTimeout)
	if err != nil {
		return newScanError(PageLoadTimeout, period, "wait for calendar table", err)
	}

	for _, indicator := range loadingIndicators {
		err := p.page.WaitForSelector(ctx, indicator, browser.Hidden, p.opts.LoadingIndicatorTimeout)
		if err != nil && ctx.Err() == nil {
			slog.DebugContext(ctx, "loading indicator still present", "selector", indicator, "err", err)
		}
	}
	if err := p.page.Wait(ctx, p.opts.DynamicContentWait); err != nil {
		return err
	}

	cells, err := p.page.QueryAll(ctx, "td")
	if err != nil {
		return newScanError(PageLoadTimeout, period, "query table cells", err)
	}
	if len(cells) == 0 {
		return newScanError(PageLoadTimeout, period, "No table data found on page", nil)
	}
	return nil
}

// endOfData reports whether the window says there is nothing left. A
// marker only counts when it is the whole text of a rendered element.
func endOfData(doc *goquery.Document) (string, bool) {
	marker := ""
	doc.Find("body *").
		Not("script, style, noscript, template").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.Find("script, style, noscript, template").Length() > 0 {
				return true
			}
			text := htmlutil.CleanText(s)
			if slices.Contains(endOfDataMarkers, text) {
				marker = text
				return false
			}
			return true
		})
	if marker != "" {
		return fmt.Sprintf("marker %q", marker), true
	}
	if doc.Find(endOfDataSelectors).Length() > 0 {
		return "no availability element", true
	}
	if doc.Find("tr").Length() <= 1 {
		return "table has no data rows", true
	}
	return "", false
}

// advance clicks the pager button and returns the resulting state,
// Scanning when there is another window to read. An error means the next
// window failed to load and the scan must not be reported as complete.
func (p Paginator) advance(ctx context.Context, report *ScanReport) (Termination, error) {
	period := report.State.PeriodIndex
	button, reason := p.findControl(ctx)
	if button == nil {
		slog.InfoContext(ctx, "no further periods", "mode", p.opts.Mode, "period", period, "reason", reason)
		return EndDetected, nil
	}

	if period >= p.opts.MaxPeriods {
		err := newScanError(MaxPeriodsReached, period, fmt.Sprintf("stopped after %d periods, later dates were not checked", period), nil)
		slog.WarnContext(ctx, "reached maximum periods", "max_periods", p.opts.MaxPeriods)
		report.Warnings = append(report.Warnings, err)
		return Exhausted, nil
	}

	label := p.opts.Mode.Label()
	err := button.Click(ctx)
	switch {
	case err == nil:
	case errors.Is(err, browser.ErrScriptRequired):
		return Failed, newScanError(NavigationFailed, period, label+" needs a browser that runs scripts, use the chrome driver", err)
	case errors.Is(err, browser.ErrNotClickable), errors.Is(err, browser.ErrDetached):
		err = newScanError(NavigationControlMissing, period, "click "+label, err)
		slog.WarnContext(ctx, "could not advance calendar", "err", err)
		report.Warnings = append(report.Warnings, err)
		return EndDetected, nil
	default:
		return Failed, newScanError(NavigationFailed, period, "load window after "+label, err)
	}

	if err := p.page.Wait(ctx, p.opts.SettleDelay); err != nil {
		return Failed, err
	}
	err = p.page.WaitForSelector(ctx, "table", browser.Attached, p.opts.PageTimeout)
	if err != nil && ctx.Err() == nil {
		err = newScanError(NavigationSettleTimeout, period, "table did not reload after paging", err)
		slog.WarnContext(ctx, "navigation settle timeout", "err", err)
		report.Warnings = append(report.Warnings, err)
	}
	return Scanning, nil
}

// findControl returns the enabled pager button for the mode, or nil and
// why it cannot be used.
func (p Paginator) findControl(ctx context.Context) (browser.Element, string) {
	buttons, err := p.page.QueryAll(ctx, p.opts.Mode.Selector())
	if err != nil {
		return nil, err.Error()
	}
	if len(buttons) == 0 {
		return nil, "button not found"
	}
	button := buttons[0]

	if _, disabled, err := button.Attribute(ctx, "disabled"); err != nil {
		return nil, err.Error()
	} else if disabled {
		return nil, "button disabled"
	}
	enabled, err := button.IsEnabled(ctx)
	if err != nil {
		return nil, err.Error()
	}
	if !enabled {
		return nil, "button not enabled"
	}
	return button, ""
}
