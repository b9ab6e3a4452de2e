package commands

import (
	"errors"
	"time"

	"samezu-bot/lib/serviceutil"
	"samezu-bot/lib/telegram"
	"samezu-bot/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Lists the chats that recently messaged the bot, to find chat ids.",
	Run: func(cmd *cobra.Command, args []string) {
		if settings.TelegramBotToken == "" {
			serviceutil.Fatal("telegram bot token is not configured", errors.New("set telegram_bot_token or TELEGRAM_BOT_TOKEN"))
		}
		client := telegram.NewClient(settings.TelegramBotToken, telegram.Options{})

		updates, err := client.GetUpdates(cmd.Context(), 0, 0)
		if err != nil {
			serviceutil.Fatal("failed to get updates", err)
		}

		t := NewTable()
		t.AppendHeader(table.Row{"Chat ID", "Type", "From", "Last message", "At"})
		seen := map[int64]int{}
		var rows []table.Row
		for _, update := range updates {
			msg := update.Message
			if msg == nil {
				continue
			}
			from := ""
			if msg.From != nil {
				from = msg.From.DisplayName()
			}
			row := table.Row{
				msg.Chat.ID,
				msg.Chat.Type,
				from,
				msg.Text,
				timezone.Format(time.Unix(msg.Date, 0)),
			}
			if i, ok := seen[msg.Chat.ID]; ok {
				rows[i] = row
				continue
			}
			seen[msg.Chat.ID] = len(rows)
			rows = append(rows, row)
		}
		t.AppendRows(rows)
		t.Render()
	},
}
