// Package bot answers telegram commands from the shared availability
// cache and pushes scheduled notifications to subscribers.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"samezu-bot/lib/chrono"
	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/lib/telegram"
	"samezu-bot/services/availability"
	"samezu-bot/services/subscribers"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("samezu/services/bot")

// Messenger delivers html formatted replies.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// API is the subset of the bot api the polling loop needs.
type API interface {
	Messenger
	DeleteWebhook(ctx context.Context) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

type Options struct {
	TargetURL     string
	CheckInterval time.Duration
	PollTimeout   time.Duration
	// RetryDelay is how long polling backs off after a failed request
	// that did not say how long to wait.
	RetryDelay time.Duration
	// DefaultFilter applies to /check when "all" is not given.
	DefaultFilter keishicho.Filter
}

type Bot struct {
	api       API
	cache     *availability.Cache
	store     *subscribers.Store
	presenter keishicho.Presenter
	notifier  Notifier
	options   Options
	now       func() time.Time

	// pending tracks replies waiting on a scan.
	pending sync.WaitGroup
}

func New(api API, cache *availability.Cache, store *subscribers.Store, presenter keishicho.Presenter, options Options) *Bot {
	if options.PollTimeout <= 0 {
		options.PollTimeout = 30 * time.Second
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = 3 * time.Second
	}
	if options.CheckInterval <= 0 {
		options.CheckInterval = 5 * time.Minute
	}
	return &Bot{
		api:       api,
		cache:     cache,
		store:     store,
		presenter: presenter,
		options:   options,
		now:       time.Now,
	}
}

// SetNotifier adds a secondary channel for scheduled alerts.
func (b *Bot) SetNotifier(notifier Notifier) {
	b.notifier = notifier
}

// Schedule registers the periodic check with cron.
func (b *Bot) Schedule(ctx context.Context, cron chrono.CronAPI) error {
	return cron.Cron(chrono.Every(b.options.CheckInterval), func() {
		err := b.Tick(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "scheduled check failed", "err", err)
		}
	})
}

// Run long polls for updates until ctx is done, then waits for pending
// replies.
func (b *Bot) Run(ctx context.Context) error {
	defer b.pending.Wait()

	err := b.api.DeleteWebhook(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "webhook cleared, polling for updates")

	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.options.PollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, telegram.ErrUnauthorized) {
				return err
			}
			delay := b.options.RetryDelay
			var apiErr *telegram.APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			slog.WarnContext(ctx, "get updates failed", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		for _, update := range updates {
			offset = max(offset, update.UpdateID+1)
			if update.Message == nil {
				continue
			}
			b.Handle(ctx, *update.Message)
		}
	}
}

// Wait blocks until every reply waiting on a scan has been sent.
func (b *Bot) Wait() {
	b.pending.Wait()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	ctx, span := tracer.Start(ctx, "reply")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	err := b.api.SendMessage(ctx, chatID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		slog.ErrorContext(ctx, "failed to send message", "chat_id", chatID, "err", err)
	}
}
