package keishicho

import (
	"go.opentelemetry.io/otel"
)

var (
	tracer = otel.Tracer("samezu/scrapers/keishicho")
	meter  = otel.Meter("samezu/scrapers/keishicho")

	scanCounter, _  = meter.Int64Counter("scans_total")
	scanDuration, _ = meter.Float64Histogram("scan_duration_seconds")
	slotsGauge, _   = meter.Int64Gauge("slots_found")
)
