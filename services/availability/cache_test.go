package availability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"samezu-bot/lib/scrapers/keishicho"

	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	calls   atomic.Int32
	started chan keishicho.NavigationMode
	release chan struct{}

	mu     sync.Mutex
	result keishicho.AggregateResult
	err    error
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		started: make(chan keishicho.NavigationMode, 16),
		release: make(chan struct{}),
	}
}

func (s *fakeScanner) set(result keishicho.AggregateResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.err = err
}

func (s *fakeScanner) Scan(ctx context.Context, mode keishicho.NavigationMode) (keishicho.AggregateResult, error) {
	s.calls.Add(1)
	s.started <- mode
	<-s.release

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(scanner Scanner) (*Cache, *clock) {
	clk := &clock{now: time.Date(2025, 8, 17, 9, 0, 0, 0, time.UTC)}
	cache := New(scanner, DefaultTTL)
	cache.now = clk.Now
	return cache, clk
}

func sampleResult(dates ...string) keishicho.AggregateResult {
	result := keishicho.AggregateResult{Mode: keishicho.TwoWeek}
	for _, date := range dates {
		result.Records = append(result.Records, keishicho.AvailabilityRecord{
			Date:          date,
			Facility:      "鮫洲",
			ApplicantType: "resident",
			Status:        keishicho.StatusReservable,
		})
	}
	return result
}

func receive(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func waitStarted(t *testing.T, s *fakeScanner) keishicho.NavigationMode {
	t.Helper()
	select {
	case mode := <-s.started:
		return mode
	case <-time.After(5 * time.Second):
		t.Fatal("scan never started")
		return keishicho.TwoWeek
	}
}

func TestCacheSingleFlight(t *testing.T) {
	scanner := newFakeScanner()
	scanner.set(sampleResult("08/18(Mon)"), nil)
	cache, _ := newTestCache(scanner)
	ctx := context.Background()

	first := cache.Request(ctx, keishicho.TwoWeek, false)
	waitStarted(t, scanner)

	state, mode := cache.State()
	require.Equal(t, Running, state)
	require.Equal(t, keishicho.TwoWeek, mode)

	second := cache.Request(ctx, keishicho.OneMonth, false)
	third := cache.Request(ctx, keishicho.TwoWeek, true)
	close(scanner.release)

	a := receive(t, first)
	b := receive(t, second)
	c := receive(t, third)

	require.NoError(t, a.Err)
	require.False(t, a.Cached)
	require.Equal(t, int32(1), scanner.calls.Load())
	require.Equal(t, a, b)
	require.Equal(t, a, c)
	require.Len(t, a.Result.Records, 1)

	state, _ = cache.State()
	require.Equal(t, Idle, state)
}

func TestCacheHitWithinTTL(t *testing.T) {
	scanner := newFakeScanner()
	close(scanner.release)
	scanner.set(sampleResult("08/18(Mon)"), nil)
	cache, clk := newTestCache(scanner)
	ctx := context.Background()

	stored, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)
	require.True(t, cache.IsValid())

	clk.Advance(119 * time.Second)
	hit, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)
	require.True(t, hit.Cached)
	require.Equal(t, stored.Result, hit.Result)
	require.Equal(t, stored.Timestamp, hit.Timestamp)
	require.Equal(t, int32(1), scanner.calls.Load())

	age, ok := cache.Age()
	require.True(t, ok)
	require.Equal(t, 119*time.Second, age)

	clk.Advance(time.Second)
	require.False(t, cache.IsValid())

	scanner.set(sampleResult("08/18(Mon)", "08/19(Tue)"), nil)
	fresh, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)
	require.False(t, fresh.Cached)
	require.Len(t, fresh.Result.Records, 2)
	require.Equal(t, int32(2), scanner.calls.Load())
}

func TestCacheForceBypassesValidEntry(t *testing.T) {
	scanner := newFakeScanner()
	close(scanner.release)
	scanner.set(sampleResult("08/18(Mon)"), nil)
	cache, _ := newTestCache(scanner)
	ctx := context.Background()

	_, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)

	outcome, err := cache.GetOrRefresh(ctx, keishicho.OneMonth, true)
	require.NoError(t, err)
	require.False(t, outcome.Cached)
	require.Equal(t, int32(2), scanner.calls.Load())
}

func TestCacheFailureKeepsPreviousEntry(t *testing.T) {
	scanner := newFakeScanner()
	close(scanner.release)
	scanner.set(sampleResult("08/18(Mon)"), nil)
	cache, clk := newTestCache(scanner)
	ctx := context.Background()

	stored, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	scanErr := errors.New("page load timeout")
	scanner.set(keishicho.AggregateResult{}, scanErr)

	outcome, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, true)
	require.ErrorIs(t, err, scanErr)
	require.ErrorIs(t, outcome.Err, scanErr)
	require.Empty(t, outcome.Result.Records)

	entry, ok := cache.Snapshot()
	require.True(t, ok)
	require.Equal(t, stored.Result, entry.Result)
	require.Equal(t, stored.Timestamp, entry.Timestamp)
	require.True(t, cache.IsValid())

	hit, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
	require.NoError(t, err)
	require.True(t, hit.Cached)
}

func TestCacheFailureOnEmptyCache(t *testing.T) {
	scanner := newFakeScanner()
	close(scanner.release)
	scanner.set(keishicho.AggregateResult{}, errors.New("boom"))
	cache, _ := newTestCache(scanner)

	_, err := cache.GetOrRefresh(context.Background(), keishicho.TwoWeek, false)
	require.Error(t, err)

	_, ok := cache.Snapshot()
	require.False(t, ok)
	_, ok = cache.Age()
	require.False(t, ok)
	require.False(t, cache.IsValid())

	state, _ := cache.State()
	require.Equal(t, Idle, state)
}

func TestCacheFailureFansOutToWaiters(t *testing.T) {
	scanner := newFakeScanner()
	scanErr := errors.New("navigation failed")
	scanner.set(keishicho.AggregateResult{}, scanErr)
	cache, _ := newTestCache(scanner)
	ctx := context.Background()

	first := cache.Request(ctx, keishicho.TwoWeek, false)
	waitStarted(t, scanner)
	second := cache.Request(ctx, keishicho.TwoWeek, false)
	close(scanner.release)

	require.ErrorIs(t, receive(t, first).Err, scanErr)
	require.ErrorIs(t, receive(t, second).Err, scanErr)
	require.Equal(t, int32(1), scanner.calls.Load())
}

func TestCacheScanSurvivesCallerCancellation(t *testing.T) {
	scanner := newFakeScanner()
	scanner.set(sampleResult("08/18(Mon)"), nil)
	cache, _ := newTestCache(scanner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrRefresh(ctx, keishicho.TwoWeek, false)
		done <- err
	}()
	waitStarted(t, scanner)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	late := cache.Request(context.Background(), keishicho.TwoWeek, false)
	close(scanner.release)

	outcome := receive(t, late)
	require.NoError(t, outcome.Err)
	require.True(t, cache.IsValid())
	require.Equal(t, int32(1), scanner.calls.Load())
}

type panickingScanner struct{}

func (panickingScanner) Scan(context.Context, keishicho.NavigationMode) (keishicho.AggregateResult, error) {
	panic("driver crashed")
}

func TestCacheRecoversFromPanic(t *testing.T) {
	cache, _ := newTestCache(panickingScanner{})

	_, err := cache.GetOrRefresh(context.Background(), keishicho.TwoWeek, false)
	require.ErrorContains(t, err, "driver crashed")

	state, _ := cache.State()
	require.Equal(t, Idle, state)
}
