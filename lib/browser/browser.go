// Package browser is the page-fetching layer the scrapers run against.
// A Page is a single tab that is navigated, queried and clicked, the
// scrapers never see which driver is behind it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a wait is not satisfied in time.
	ErrTimeout = errors.New("browser: timed out")
	// ErrNotClickable is returned by drivers that cannot emulate a click
	// on the element (eg. a script-only button on a static page).
	ErrNotClickable = errors.New("browser: element is not clickable")
	// ErrScriptRequired is the ErrNotClickable returned for an enabled
	// control whose click only runs a script, which a static driver
	// cannot execute.
	ErrScriptRequired = fmt.Errorf("%w: the control runs a script", ErrNotClickable)
	// ErrDetached is returned when an element outlives the document it
	// was queried from.
	ErrDetached = errors.New("browser: element is detached from the page")
)

type WaitState int

const (
	// Attached waits for the selector to be present in the DOM.
	Attached WaitState = iota
	// Visible waits for the selector to be present and rendered.
	Visible
	// Hidden waits for the selector to be absent or not rendered.
	Hidden
	// Detached waits for the selector to be absent from the DOM.
	Detached
)

func (s WaitState) String() string {
	switch s {
	case Attached:
		return "attached"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Detached:
		return "detached"
	}
	return "unknown"
}

type Element interface {
	TextContent(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present,
	// `disabled=""` is present with an empty value.
	Attribute(ctx context.Context, name string) (string, bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
}

type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Content returns a snapshot of the current document as html.
	Content(ctx context.Context) (string, error)
	// URL is the address of the current document.
	URL() string
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// Launcher opens a fresh page, one is launched per scan.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutErr maps a deadline hit inside a driver call onto ErrTimeout,
// cancellation by the caller is passed through.
func timeoutErr(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrTimeout
	}
	return err
}
