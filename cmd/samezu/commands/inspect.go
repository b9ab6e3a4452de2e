package commands

import (
	"fmt"
	"log/slog"
	"os"

	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/lib/serviceutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <page.html>",
	Short: "Parses a saved calendar page and prints every cell of the target facilities.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			serviceutil.Fatal("failed to open page", err)
		}
		defer f.Close()

		doc, err := goquery.NewDocumentFromReader(f)
		if err != nil {
			serviceutil.Fatal("failed to parse page", err)
		}

		calendar, rowErrs := keishicho.ParseCalendarDocument(cmd.Context(), doc, settings.TargetFacilities)
		for _, err := range rowErrs {
			slog.Warn("row skipped", "err", err)
		}

		fmt.Printf("%d date labels, %d target rows\n", len(calendar.DateLabels), len(calendar.Rows))

		t := NewTable()
		t.AppendHeader(table.Row{"Date", "Facility", "Applicant", "Status"})
		counts := map[keishicho.Status]int{}
		for _, r := range keishicho.Extract(calendar) {
			counts[r.Status]++
			t.AppendRow(table.Row{r.Date, r.Facility, r.ApplicantType, r.Status})
		}
		t.AppendFooter(table.Row{
			"",
			"",
			"Reservable / Unavailable / Outside hours",
			fmt.Sprintf("%d / %d / %d", counts[keishicho.StatusReservable], counts[keishicho.StatusUnavailable], counts[keishicho.StatusOutsideHours]),
		})
		t.Render()
	},
}
