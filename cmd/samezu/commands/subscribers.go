package commands

import (
	"fmt"
	"strconv"

	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/lib/serviceutil"
	"samezu-bot/services/subscribers"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	subscribersCmd.AddCommand(subscribersListCmd)
	subscribersCmd.AddCommand(subscribersAddCmd)
	subscribersCmd.AddCommand(subscribersRemoveCmd)
	rootCmd.AddCommand(subscribersCmd)
}

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Manages the chats that receive scheduled notifications.",
}

func parseChatID(s string) int64 {
	chatID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		serviceutil.Fatal("invalid chat id", err)
	}
	return chatID
}

var subscribersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every subscriber.",
	Run: func(cmd *cobra.Command, args []string) {
		subs, err := subscribers.NewStore(settings.SubscribersFile).List()
		if err != nil {
			serviceutil.Fatal("failed to read subscribers", err)
		}

		t := NewTable()
		t.AppendHeader(table.Row{"Chat ID", "User", "Subscription"})
		for _, sub := range subs {
			t.AppendRow(table.Row{sub.ChatID, sub.User, sub.Filter})
		}
		t.AppendFooter(table.Row{"", "Total", len(subs)})
		t.Render()
	},
}

var subscribersAddCmd = &cobra.Command{
	Use:   "add <chat_id> [user] [all|relevant|nai|ari]",
	Short: "Adds a subscriber.",
	Args:  cobra.RangeArgs(1, 3),
	Run: func(cmd *cobra.Command, args []string) {
		sub := subscribers.Subscriber{
			ChatID: parseChatID(args[0]),
			Filter: keishicho.FilterResident,
		}
		if len(args) > 1 {
			sub.User = args[1]
		}
		if len(args) > 2 {
			filter, ok := keishicho.ParseFilter(args[2])
			if !ok {
				serviceutil.Fatal("invalid subscription type", fmt.Errorf("%q is not one of %v", args[2], keishicho.FilterNames()))
			}
			sub.Filter = filter
		}

		err := subscribers.NewStore(settings.SubscribersFile).Add(sub)
		if err != nil {
			serviceutil.Fatal("failed to add subscriber", err)
		}
		fmt.Printf("added %d (%s)\n", sub.ChatID, sub.Filter)
	},
}

var subscribersRemoveCmd = &cobra.Command{
	Use:   "remove <chat_id>",
	Short: "Removes a subscriber.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chatID := parseChatID(args[0])
		removed, err := subscribers.NewStore(settings.SubscribersFile).Remove(chatID)
		if err != nil {
			serviceutil.Fatal("failed to remove subscriber", err)
		}
		if !removed {
			fmt.Printf("%d is not subscribed\n", chatID)
			return
		}
		fmt.Printf("removed %d\n", chatID)
	},
}
