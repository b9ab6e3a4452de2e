package commands

import (
	"errors"
	"log/slog"

	"samezu-bot/lib/chrono"
	"samezu-bot/lib/serviceutil"
	"samezu-bot/lib/telegram"
	"samezu-bot/lib/telemetry"
	"samezu-bot/services/availability"
	"samezu-bot/services/bot"
	"samezu-bot/services/subscribers"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(botCmd)
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Runs the telegram bot and the periodic check until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if settings.TelegramBotToken == "" {
			serviceutil.Fatal("telegram bot token is not configured", errors.New("set telegram_bot_token or TELEGRAM_BOT_TOKEN"))
		}

		telemetry.InstrumentPerfStats(ctx)

		scanner := settings.Scanner(settings.Launcher())
		cache := availability.New(scanner, seconds(settings.CacheTTLSeconds))
		store := subscribers.NewStore(settings.SubscribersFile)
		client := telegram.NewClient(settings.TelegramBotToken, telegram.Options{})

		samezu := bot.New(client, cache, store, settings.Presenter(), bot.Options{
			TargetURL:     settings.TargetURL,
			CheckInterval: seconds(settings.CheckIntervalSeconds),
			DefaultFilter: settings.DefaultFilter(),
		})
		if settings.EmailEnabled() {
			samezu.SetNotifier(bot.NewEmailNotifier(settings.Smtp()))
			slog.Info("email alerts enabled", "recipients", len(settings.Email.Recipients))
		}

		cron := chrono.NewStandardCron()
		err := samezu.Schedule(ctx, cron)
		if err != nil {
			serviceutil.Fatal("failed to schedule periodic check", err)
		}

		slog.Info(
			"bot is running",
			"driver", settings.Browser.Driver,
			"facilities", settings.TargetFacilities,
			"check_interval", seconds(settings.CheckIntervalSeconds),
			"cache_ttl", cache.TTL(),
			"subscribers_file", store.Path(),
		)
		err = samezu.Run(ctx)
		<-cron.Stop().Done()
		if err != nil {
			serviceutil.Fatal("bot stopped", err)
		}
		slog.Info("bot stopped")
	},
}
