package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/lib/telegram"
	"samezu-bot/lib/timezone"
	"samezu-bot/services/availability"
	"samezu-bot/services/subscribers"

	"github.com/antzucaro/matchr"
)

// suggestionThreshold is the minimum jaro-winkler similarity for a
// "did you mean" hint.
const suggestionThreshold = 0.8

type handler func(b *Bot, ctx context.Context, msg telegram.Message, args []string)

var commands map[string]handler

func init() {
	commands = map[string]handler{
		"start":       (*Bot).start,
		"help":        (*Bot).help,
		"check":       checkWith(keishicho.TwoWeek),
		"check_month": checkWith(keishicho.OneMonth),
		"subscribe":   (*Bot).subscribe,
		"unsubscribe": (*Bot).unsubscribe,
		"link":        (*Bot).link,
		"cache":       (*Bot).cacheInfo,
		"status":      (*Bot).status,
	}
}

// Handle dispatches a single incoming message. Non command messages are
// ignored.
func (b *Bot) Handle(ctx context.Context, msg telegram.Message) {
	name, args, ok := msg.Command()
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "command:"+name)
	defer span.End()

	slog.InfoContext(ctx, "command", "name", name, "args", args, "chat_id", msg.Chat.ID)

	cmd, ok := commands[name]
	if !ok {
		b.reply(ctx, msg.Chat.ID, unknownCommand(name))
		return
	}
	cmd(b, ctx, msg, args)
}

// suggest returns the candidate most similar to input, if it is similar
// enough.
func suggest(input string, candidates []string) (string, bool) {
	var best string
	var bestScore float64
	for _, c := range candidates {
		score := matchr.JaroWinkler(input, c, false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore >= suggestionThreshold
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	return names
}

func unknownCommand(name string) string {
	text := fmt.Sprintf("❓ Unknown command /%s.", html.EscapeString(name))
	if match, ok := suggest(name, commandNames()); ok {
		text += fmt.Sprintf(" Did you mean /%s?", match)
	}
	return text + "\n\nSend /help to see the available commands."
}

func formatAge(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%dm %ds", int(d/time.Minute), int((d%time.Minute)/time.Second))
}

func (b *Bot) start(ctx context.Context, msg telegram.Message, _ []string) {
	b.reply(ctx, msg.Chat.ID, `🎉 <b>Welcome to Samezu Bot!</b>

This bot helps you check for available driving test reservation slots.

<b>Available commands:</b>
/check - Check for available slots (2-week navigation)
/check_month - Check for available slots (1-month navigation)
/subscribe - Get notified when slots appear
/link - Get the reservation system website
/cache - Show cache information
/help - Show this help message

The bot will automatically notify subscribers when slots become available.`)
}

func (b *Bot) help(ctx context.Context, msg telegram.Message, _ []string) {
	var facilities strings.Builder
	for _, f := range b.presenter.Facilities {
		fmt.Fprintf(&facilities, "• %s\n", html.EscapeString(f))
	}
	markers := b.presenter.Markers

	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(`📋 <b>Samezu Bot Help</b>

<b>Commands:</b>
/start - Welcome message
/check - Check for available slots (2-week navigation)
/check_month - Check for available slots (1-month navigation)
/link - Get the reservation system website
/status - Check bot status
/cache - Show detailed cache information
/help - Show this help message

<b>Subscription Options:</b>
• <b>/subscribe</b> - Relevant slots only (%[1]s)
• <b>/subscribe all</b> - ALL available slots
• <b>/subscribe nai</b> - %[2]s slots only
• <b>/subscribe ari</b> - %[1]s slots only
• <b>/unsubscribe</b> - Stop notifications

<b>Command Parameters:</b>
• <b>all</b> or <b>-a</b> - Show ALL available slots
• <b>force</b> or <b>-f</b> - Ignore the cache and scan now

<b>Examples:</b>
• <code>/check</code>
• <code>/check all</code>
• <code>/check_month all force</code>

<b>Automatic checking:</b> every %[3]s
<b>Result cache:</b> %[4]s

<b>Supported facilities:</b>
%[5]s`,
		html.EscapeString(markers.Resident),
		html.EscapeString(markers.NonResident),
		b.options.CheckInterval,
		b.cache.TTL(),
		facilities.String(),
	))
}

func parseCheckArgs(args []string) (force, all bool) {
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "force", "-f":
			force = true
		case "all", "-a":
			all = true
		}
	}
	return force, all
}

func checkWith(mode keishicho.NavigationMode) handler {
	return func(b *Bot, ctx context.Context, msg telegram.Message, args []string) {
		b.check(ctx, msg, mode, args)
	}
}

func (b *Bot) check(ctx context.Context, msg telegram.Message, mode keishicho.NavigationMode, args []string) {
	force, all := parseCheckArgs(args)
	filter := b.options.DefaultFilter
	if all {
		filter = keishicho.FilterAll
	}
	chatID := msg.Chat.ID

	intro := "🔍 Checking for available slots...\n\nPlease wait, this may take a while."
	if mode == keishicho.OneMonth {
		intro = "🔍 Checking for available slots using month navigation...\n\nPlease wait, this may take a while."
	}
	b.reply(ctx, chatID, intro)

	outcomes := b.cache.Request(ctx, mode, force)

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		// replies must be delivered even once polling has stopped
		ctx := context.WithoutCancel(ctx)

		outcome := <-outcomes
		if outcome.Err != nil {
			slog.WarnContext(ctx, "check failed", "chat_id", chatID, "err", outcome.Err)
			b.reply(ctx, chatID, keishicho.SanitizeError(outcome.Err))
			return
		}

		text := b.presenter.Render(outcome.Result, filter)
		if outcome.Cached {
			kind := "filtered"
			if filter == keishicho.FilterAll {
				kind = "unfiltered"
			}
			text = fmt.Sprintf(
				"⚡ <b>Using cached result (%s)</b>\n\n📊 Result from %s ago:\n\n%s",
				kind, formatAge(b.now().Sub(outcome.Timestamp)), text,
			)
		}
		b.reply(ctx, chatID, text)
	}()
}

func userTag(msg telegram.Message) string {
	if msg.From != nil {
		if name := msg.From.DisplayName(); name != "" {
			return name
		}
	}
	return subscribers.DefaultUser(msg.Chat.ID)
}

func (b *Bot) subscribe(ctx context.Context, msg telegram.Message, args []string) {
	filter := keishicho.FilterResident
	kind := "relevant"
	if len(args) > 0 {
		parsed, ok := keishicho.ParseFilter(args[0])
		if !ok {
			text := fmt.Sprintf("❓ Unknown subscription type <b>%s</b>.", html.EscapeString(args[0]))
			if match, ok := suggest(strings.ToLower(args[0]), keishicho.FilterNames()); ok {
				text += fmt.Sprintf(" Did you mean <code>/subscribe %s</code>?", match)
			}
			b.reply(ctx, msg.Chat.ID, text+"\n\nChoose one of: all, relevant, nai, ari.")
			return
		}
		filter = parsed
		kind = strings.ToLower(args[0])
	}

	user := userTag(msg)
	err := b.store.Add(subscribers.Subscriber{
		ChatID: msg.Chat.ID,
		User:   user,
		Filter: filter,
	})
	if errors.Is(err, subscribers.ErrAlreadySubscribed) {
		b.reply(ctx, msg.Chat.ID, "ℹ️ You are already subscribed and will receive notifications when slots are found.")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to add subscriber", "chat_id", msg.Chat.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, "❌ Failed to subscribe, please try again later.")
		return
	}

	markers := b.presenter.Markers
	var title, detail string
	switch {
	case filter == keishicho.FilterAll:
		title = "ALL"
		detail = fmt.Sprintf("both %s and %s slots", markers.Resident, markers.NonResident)
	case filter == keishicho.FilterNonResident:
		title = markers.NonResident
		detail = markers.NonResident + " slots only"
	case kind == "ari" || kind == "ari_only" || kind == "ある方":
		title = markers.Resident
		detail = markers.Resident + " slots only"
	default:
		title = "relevant"
		detail = markers.Resident + " slots only (filtered)"
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"✅ You are now subscribed to <b>%s</b> slot notifications!\n\n👤 You'll be tagged as: %s\n📋 You'll receive notifications for %s.",
		html.EscapeString(title), html.EscapeString(user), html.EscapeString(detail),
	))
}

func (b *Bot) unsubscribe(ctx context.Context, msg telegram.Message, _ []string) {
	removed, err := b.store.Remove(msg.Chat.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to remove subscriber", "chat_id", msg.Chat.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, "❌ Failed to unsubscribe, please try again later.")
		return
	}
	if !removed {
		b.reply(ctx, msg.Chat.ID, "ℹ️ You are not currently subscribed.")
		return
	}
	b.reply(ctx, msg.Chat.ID, "❎ You have been unsubscribed. You will no longer receive slot notifications.")
}

func (b *Bot) link(ctx context.Context, msg telegram.Message, _ []string) {
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(`🔗 <b>Reservation System Website</b>

📋 <b>Tokyo Police Department Driving Test Reservation System</b>

🌐 <b>Website:</b> %s

💡 <b>Note:</b> You can visit this website directly to check for available slots manually.`,
		html.EscapeString(b.options.TargetURL),
	))
}

func (b *Bot) cacheStatus() string {
	age, ok := b.cache.Age()
	if !ok || !b.cache.IsValid() {
		return "⚡ <b>Cache Status:</b> Expired or empty"
	}
	return fmt.Sprintf("⚡ <b>Cache Status:</b> Valid (%s old)", formatAge(age))
}

func (b *Bot) cacheInfo(ctx context.Context, msg telegram.Message, _ []string) {
	entry, ok := b.cache.Snapshot()
	if !ok {
		b.reply(ctx, msg.Chat.ID, "📊 <b>Cache Information</b>\n\n❌ <b>No cached results available</b>\n\nThe cache is empty.")
		return
	}

	age, _ := b.cache.Age()
	state := "✅ Valid"
	if !b.cache.IsValid() {
		state = "❌ Expired"
	}

	var text strings.Builder
	text.WriteString("📊 <b>Cache Information</b>\n\n")
	fmt.Fprintf(&text, "⏰ <b>Cache Duration:</b> %s\n\n", b.cache.TTL())
	fmt.Fprintf(&text, "   📅 <b>Time:</b> %s\n", timezone.Format(entry.Timestamp))
	fmt.Fprintf(&text, "   ⏱️ <b>Age:</b> %s\n", formatAge(age))
	fmt.Fprintf(&text, "   📊 <b>Status:</b> %s\n", state)
	fmt.Fprintf(&text, "   🧭 <b>Navigation:</b> %s, %d period(s), %s\n",
		entry.Result.Mode.Label(), entry.Result.Periods, entry.Result.Termination)
	fmt.Fprintf(&text, "   🎫 <b>Reservable slots:</b> %d", len(entry.Result.Records))
	b.reply(ctx, msg.Chat.ID, text.String())
}

func (b *Bot) status(ctx context.Context, msg telegram.Message, _ []string) {
	state, mode := b.cache.State()
	if state == availability.Running {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf(
			"⏳ <b>Status</b>\n\n🔄 A reservation check (%s) is currently in progress.\n\nPlease wait for it to complete.\n%s",
			html.EscapeString(mode.Label()), b.cacheStatus(),
		))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"✅ <b>Status</b>\n\n🟢 You're ready to use commands.\n\nYou can use /check to start a reservation check.\n%s",
		b.cacheStatus(),
	))
}
