package commands

import (
	"fmt"
	"log/slog"

	"samezu-bot/lib/browser"
	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	checkMonth     bool
	checkAll       bool
	checkTable     bool
	checkSnapshots []string
	checkDump      string
)

func init() {
	checkCmd.Flags().BoolVar(&checkMonth, "month", false, "Page through the calendar a month at a time.")
	checkCmd.Flags().BoolVar(&checkAll, "all", false, "Show slots for every applicant type.")
	checkCmd.Flags().BoolVar(&checkTable, "table", false, "Print the records as a table instead of the chat message.")
	checkCmd.Flags().StringSliceVar(&checkSnapshots, "snapshot", nil, "Scan saved calendar pages (in paging order) instead of the live site.")
	checkCmd.Flags().StringVar(&checkDump, "dump", "", "Record every http exchange into this directory (http driver only).")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [--month] [--all] [--table] [--dump <dir>] [--snapshot <page.html>...]",
	Short: "Runs a single scan and prints what it found.",
	Run: func(cmd *cobra.Command, args []string) {
		if checkDump != "" {
			settings.Browser.DumpDir = checkDump
		}
		var launcher browser.Launcher = settings.Launcher()
		if len(checkSnapshots) > 0 {
			snapshots, err := browser.NewSnapshotLauncherFromFiles(checkSnapshots)
			if err != nil {
				serviceutil.Fatal("failed to read snapshots", err)
			}
			launcher = snapshots
		}

		mode := keishicho.TwoWeek
		if checkMonth {
			mode = keishicho.OneMonth
		}
		filter := settings.DefaultFilter()
		if checkAll {
			filter = keishicho.FilterAll
		}

		scanner := settings.Scanner(launcher)
		result, err := scanner.Scan(cmd.Context(), mode)
		if err != nil {
			serviceutil.Fatal("scan failed", err)
		}
		slog.Info(
			"scan finished",
			"periods", result.Periods,
			"termination", result.Termination,
			"records", len(result.Records),
			"warnings", len(result.Warnings),
		)

		if !checkTable {
			fmt.Println(scanner.Presenter().Render(result, filter))
			return
		}

		t := NewTable()
		t.AppendHeader(table.Row{"Date", "Facility", "Applicant", "Status", "Link"})
		for _, r := range filter.Apply(result.Records, settings.Markers()) {
			t.AppendRow(table.Row{r.Date, r.Facility, r.ApplicantType, r.Status, r.Link})
		}
		t.AppendFooter(table.Row{"", "", "", "Periods", result.Periods})
		t.Render()
	},
}
