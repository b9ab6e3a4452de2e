// Package availability holds the process wide cache of the latest scan.
// At most one scan runs at a time, callers that miss the cache while a
// scan is in flight wait for that scan instead of starting another.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"samezu-bot/lib/scrapers/keishicho"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("samezu/services/availability")
	meter  = otel.Meter("samezu/services/availability")

	requestCounter, _ = meter.Int64Counter("cache_requests_total")
)

const DefaultTTL = 120 * time.Second

type Scanner interface {
	Scan(ctx context.Context, mode keishicho.NavigationMode) (keishicho.AggregateResult, error)
}

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

type Entry struct {
	Result    keishicho.AggregateResult
	Timestamp time.Time
}

// Outcome is what a request resolves to. Err is set when the scan the
// request waited on failed, Result is then empty.
type Outcome struct {
	Result    keishicho.AggregateResult
	Timestamp time.Time
	// Cached is true when the request was served from a valid entry
	// without waiting on a scan.
	Cached bool
	Err    error
}

type Cache struct {
	scanner Scanner
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	entry    *Entry
	state    State
	inflight keishicho.NavigationMode
	waiters  []chan Outcome
}

func New(scanner Scanner, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		scanner: scanner,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) validLocked() bool {
	return c.entry != nil && c.now().Sub(c.entry.Timestamp) < c.ttl
}

// Request resolves to the cached result when it is still valid and force
// is false. Otherwise the caller joins the running scan, or starts one
// with mode when the cache is idle. A running scan is never restarted,
// a forced request that arrives mid scan receives that scan's result.
//
// The returned channel receives exactly one Outcome. The scan itself is
// detached from ctx, it completes even if every caller gives up.
func (c *Cache) Request(ctx context.Context, mode keishicho.NavigationMode, force bool) <-chan Outcome {
	ch := make(chan Outcome, 1)

	c.mu.Lock()
	if !force && c.validLocked() {
		entry := *c.entry
		c.mu.Unlock()

		requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "hit")))
		ch <- Outcome{
			Result:    entry.Result,
			Timestamp: entry.Timestamp,
			Cached:    true,
		}
		close(ch)
		return ch
	}

	c.waiters = append(c.waiters, ch)
	if c.state == Running {
		inflight := c.inflight
		waiting := len(c.waiters)
		c.mu.Unlock()

		requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "joined")))
		slog.DebugContext(ctx, "joined running scan", "mode", inflight, "requested_mode", mode, "waiters", waiting)
		return ch
	}
	c.state = Running
	c.inflight = mode
	c.mu.Unlock()

	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "started")))
	go c.refresh(context.WithoutCancel(ctx), mode)
	return ch
}

// GetOrRefresh is Request that blocks until the outcome is available or
// ctx is done.
func (c *Cache) GetOrRefresh(ctx context.Context, mode keishicho.NavigationMode, force bool) (Outcome, error) {
	select {
	case outcome := <-c.Request(ctx, mode, force):
		return outcome, outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context, mode keishicho.NavigationMode) {
	ctx, span := tracer.Start(ctx, "refresh")
	defer span.End()

	result, err := c.scan(ctx, mode)

	c.mu.Lock()
	outcome := Outcome{Result: result, Err: err}
	if err == nil {
		c.entry = &Entry{
			Result:    result,
			Timestamp: c.now(),
		}
		outcome.Timestamp = c.entry.Timestamp
	}
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed, cache left unchanged")
		outcome.Result = keishicho.AggregateResult{}
	}
	span.SetAttributes(attribute.Int("waiters", len(waiters)))

	for _, w := range waiters {
		w <- outcome
		close(w)
	}
}

func (c *Cache) scan(ctx context.Context, mode keishicho.NavigationMode) (result keishicho.AggregateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()
	return c.scanner.Scan(ctx, mode)
}

// IsValid reports whether a cached result exists and is younger than
// the ttl.
func (c *Cache) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

// Age is how long ago the cached result was stored, false when nothing
// is cached.
func (c *Cache) Age() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return 0, false
	}
	return c.now().Sub(c.entry.Timestamp), true
}

// Snapshot returns the cached entry regardless of its age.
func (c *Cache) Snapshot() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

// State returns whether a scan is in flight, and its mode if so.
func (c *Cache) State() (State, keishicho.NavigationMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.inflight
}
