package keishicho

import (
	"context"
	"log/slog"
	"time"

	"samezu-bot/lib/browser"

	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type ScannerOptions struct {
	TargetURL string
	// Paginator configures every scan, its Mode is replaced by the mode
	// passed to Scan.
	Paginator PaginatorOptions
	// ScanTimeout bounds one full scan, zero means no bound.
	ScanTimeout time.Duration
	Presenter   Presenter
}

// Scanner runs complete scans, each on a freshly launched page.
type Scanner struct {
	launcher browser.Launcher
	opts     ScannerOptions
	now      func() time.Time
}

func NewScanner(launcher browser.Launcher, opts ScannerOptions) *Scanner {
	return &Scanner{
		launcher: launcher,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *Scanner) Presenter() Presenter {
	return s.opts.Presenter
}

// Scan opens the calendar and pages through it with mode. Only a
// complete scan produces a result, any fatal error discards what was
// collected.
func (s *Scanner) Scan(ctx context.Context, mode NavigationMode) (AggregateResult, error) {
	scanID, err := random.String(8)
	if err != nil {
		scanID = "unknown"
	}
	ctx, span := tracer.Start(ctx, "Scan", trace.WithAttributes(
		attribute.String("scan_id", scanID),
		attribute.String("mode", mode.String()),
		attribute.String("url", s.opts.TargetURL),
	))
	defer span.End()

	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	start := s.now()
	logger := slog.Default().With("scan_id", scanID, "mode", mode)
	logger.InfoContext(ctx, "starting reservation check", "url", s.opts.TargetURL)

	report, err := s.scan(ctx, mode)
	elapsed := s.now().Sub(start)
	attrs := metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("termination", report.Termination.String()),
	)
	scanCounter.Add(ctx, 1, attrs)
	scanDuration.Record(ctx, elapsed.Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		logger.ErrorContext(ctx, "error during reservation check", "err", err, "periods", report.State.PeriodIndex)
		return AggregateResult{}, err
	}

	warnings := make([]string, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warnings = append(warnings, w.Error())
	}
	result := AggregateResult{
		Records:     Dedupe(report.Records),
		GeneratedAt: s.now(),
		Mode:        mode,
		Periods:     report.State.PeriodIndex,
		Termination: report.Termination,
		Warnings:    warnings,
	}
	slotsGauge.Record(ctx, int64(len(result.Records)), metric.WithAttributes(attribute.String("mode", mode.String())))

	logger.InfoContext(ctx, "reservation check finished",
		"slots", len(result.Records),
		"periods", result.Periods,
		"termination", result.Termination,
		"warnings", len(warnings),
		"seconds", elapsed.Seconds(),
	)
	return result, nil
}

func (s *Scanner) scan(ctx context.Context, mode NavigationMode) (ScanReport, error) {
	page, err := s.launcher.Launch(ctx)
	if err != nil {
		return ScanReport{Termination: Failed}, newScanError(NavigationFailed, 0, "launch browser", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close page", "err", err)
		}
	}()

	opts := s.opts.Paginator
	opts.Mode = mode
	opts = opts.withDefaults()

	navStart := s.now()
	err = page.Navigate(ctx, s.opts.TargetURL, opts.PageTimeout)
	if err != nil {
		return ScanReport{Termination: Failed}, newScanError(NavigationFailed, 0, "navigate to "+s.opts.TargetURL, err)
	}
	slog.DebugContext(ctx, "page navigation successful", "seconds", s.now().Sub(navStart).Seconds(), "url", page.URL())
	if current := page.URL(); current != "" && current != s.opts.TargetURL {
		slog.WarnContext(ctx, "redirected away from target url", "target", s.opts.TargetURL, "current", current)
	}

	return NewPaginator(page, opts).Run(ctx)
}

// RunScan scans and renders the result through filter. Failures are
// rendered too, the returned text is always safe to send.
func (s *Scanner) RunScan(ctx context.Context, mode NavigationMode, filter Filter) string {
	result, err := s.Scan(ctx, mode)
	if err != nil {
		return SanitizeError(err)
	}
	return s.opts.Presenter.Render(result, filter)
}
