package keishicho

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"samezu-bot/lib/browser"
	"samezu-bot/lib/htmlutil"
	"samezu-bot/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Cell is one date column of a facility row.
type Cell struct {
	Date   string
	Status Status
	Link   string
}

type Row struct {
	// Facility is the configured target name the row matched, not the
	// raw header text.
	Facility      string
	ApplicantType string
	Cells         []Cell
}

// CalendarPage is one window of the reservation table.
type CalendarPage struct {
	DateLabels []string
	Rows       []Row
}

var srOnlyDate = regexp.MustCompile(`(\d{4})年(\d{2})月(\d{2})日`)

// Snapshot parses the page's current document.
func Snapshot(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	content, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	if location, err := url.Parse(page.URL()); err == nil && location.Host != "" {
		doc.Url = location
	}
	return doc, nil
}

// ParseCalendar parses the table currently loaded in page.
func ParseCalendar(ctx context.Context, page browser.Page, targets []string) (CalendarPage, []error, error) {
	doc, err := Snapshot(ctx, page)
	if err != nil {
		return CalendarPage{}, nil, err
	}
	calendar, rowErrs := ParseCalendarDocument(ctx, doc, targets)
	return calendar, rowErrs, nil
}

// ParseCalendarDocument reads the date header row and every row that
// belongs to one of targets. A row that cannot be read is skipped and
// reported in the returned errors, the rest of the page is still parsed.
func ParseCalendarDocument(ctx context.Context, doc *goquery.Document, targets []string) (CalendarPage, []error) {
	ctx, span := tracer.Start(ctx, "ParseCalendarDocument")
	defer span.End()

	rows := doc.Find("tr")
	calendar := CalendarPage{
		DateLabels: dateLabels(rows),
		Rows:       []Row{},
	}

	var rowErrs []error
	rows.Each(func(i int, tr *goquery.Selection) {
		row, ok, err := parseRow(ctx, tr, calendar.DateLabels, targets, doc.Url)
		if err != nil {
			err = newScanError(RowParseError, 0, fmt.Sprintf("row %d", i), err)
			span.RecordError(err)
			slog.WarnContext(ctx, "skipping unreadable row", "row", i, "err", err)
			rowErrs = append(rowErrs, err)
			return
		}
		if ok {
			calendar.Rows = append(calendar.Rows, row)
		}
	})
	if len(rowErrs) > 0 {
		span.SetStatus(codes.Error, "some rows could not be parsed")
	}

	span.SetAttributes(
		attribute.Int("date_labels", len(calendar.DateLabels)),
		attribute.Int("rows", len(calendar.Rows)),
	)
	return calendar, rowErrs
}

// dateLabels reads the column headers from the second row of the table,
// cells with 2 characters or less are placeholders.
func dateLabels(rows *goquery.Selection) []string {
	labels := []string{}
	if rows.Length() < 2 {
		return labels
	}
	rows.Eq(1).ChildrenFiltered("td").Each(func(_ int, td *goquery.Selection) {
		label := htmlutil.CleanText(td)
		if utf8.RuneCountInString(label) > 2 {
			labels = append(labels, label)
		}
	})
	return labels
}

func parseRow(ctx context.Context, tr *goquery.Selection, labels, targets []string, base *url.URL) (Row, bool, error) {
	cells := tr.ChildrenFiltered("th, td")
	if cells.Length() == 0 {
		return Row{}, false, nil
	}

	facility, ok := textutil.MatchName(htmlutil.CleanText(cells.Eq(0)), targets)
	if !ok {
		return Row{}, false, nil
	}
	if cells.Length() < 2 {
		return Row{}, false, fmt.Errorf("%s: missing applicant type cell", facility)
	}

	applicantType := htmlutil.CleanText(cells.Eq(1))
	if applicantType == "" {
		applicantType = "Unknown"
	}

	row := Row{
		Facility:      facility,
		ApplicantType: applicantType,
		Cells:         []Cell{},
	}
	cells.Slice(2, goquery.ToEnd).Filter("td").Each(func(i int, td *goquery.Selection) {
		cell := Cell{
			Date:   cellDate(td, i, labels),
			Status: ParseStatus(td.Find("svg[aria-label]").First().AttrOr("aria-label", "")),
		}
		if cell.Status == StatusReservable {
			anchors := htmlutil.GetAnchors(ctx, td.Find("a[href]"), base)
			if len(anchors) > 0 {
				cell.Link = anchors[0].Href
			}
		}
		row.Cells = append(row.Cells, cell)
	})
	return row, true, nil
}

// cellDate aligns column i with its header label. Rows can carry more
// cells than there are labels, the date is then recovered from the
// cell's screen reader text.
func cellDate(td *goquery.Selection, i int, labels []string) string {
	if i < len(labels) {
		return labels[i]
	}
	groups := srOnlyDate.FindStringSubmatch(td.Find(".sr-only").Text())
	if len(groups) == 4 {
		return groups[2] + "/" + groups[3]
	}
	return fmt.Sprintf("Unknown date %d", i+1)
}
