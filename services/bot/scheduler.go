package bot

import (
	"context"
	"fmt"
	"log/slog"

	"samezu-bot/lib/scrapers/keishicho"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Tick force refreshes the cache and notifies every subscriber whose
// subscription has slots in the fresh result.
func (b *Bot) Tick(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Tick")
	defer span.End()

	slog.InfoContext(ctx, "running scheduled check")

	outcome, err := b.cache.GetOrRefresh(ctx, keishicho.TwoWeek, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return err
	}

	subs, err := b.store.List()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list subscribers")
		return err
	}

	sent := 0
	for _, sub := range subs {
		if !b.presenter.HasSlots(outcome.Result, sub.Filter) {
			slog.DebugContext(ctx, "no slots for subscriber", "chat_id", sub.ChatID, "filter", sub.Filter)
			continue
		}
		text := b.presenter.Render(outcome.Result, sub.Filter)
		if tag := sub.Tag(); tag != "" {
			text = fmt.Sprintf("🔔 %s\n\n%s", tag, text)
		}
		b.reply(ctx, sub.ChatID, text)
		sent++
	}
	span.SetAttributes(
		attribute.Int("subscribers", len(subs)),
		attribute.Int("notified", sent),
	)
	slog.InfoContext(ctx, "scheduled check completed", "subscribers", len(subs), "notified", sent)

	if b.notifier != nil && b.presenter.HasSlots(outcome.Result, b.options.DefaultFilter) {
		err := b.notifier.Notify(ctx, b.presenter.Render(outcome.Result, b.options.DefaultFilter))
		if err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "failed to send email alert", "err", err)
		}
	}
	return nil
}
