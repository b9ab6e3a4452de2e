package keishicho

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var targets = []string{"府中試験場", "鮫洲試験場"}

const (
	residentType    = "29の国･地域以外の方で、住民票のある方"
	nonResidentType = "29の国･地域以外の方で、住民票のない方"
)

type testRow struct {
	facility  string
	applicant string
	cells     []string
}

// statusCell renders a cell whose icon carries label, an empty label
// renders a cell without an icon.
func statusCell(label string) string {
	if label == "" {
		return `<td class="time--table"></td>`
	}
	return fmt.Sprintf(`<td class="time--table"><svg role="img" aria-label="%s"></svg></td>`, label)
}

func calendarHTML(labels []string, rows []testRow) string {
	var b strings.Builder
	b.WriteString(`<html><body><table><tbody>`)
	b.WriteString(`<tr><th rowspan="2">施設名</th><th rowspan="2">予約枠名</th><td>pager</td></tr>`)
	b.WriteString(`<tr>`)
	for _, label := range labels {
		fmt.Fprintf(&b, `<td><span>%s</span></td>`, label)
	}
	b.WriteString(`</tr>`)
	for _, row := range rows {
		fmt.Fprintf(&b, `<tr><th><a href="facilityDetail">%s</a></th><th>%s</th>`, row.facility, row.applicant)
		for _, cell := range row.cells {
			if strings.HasPrefix(cell, "<td") {
				b.WriteString(cell)
				continue
			}
			b.WriteString(statusCell(cell))
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func parseHTML(t testing.TB, contents string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(contents))
	require.Nil(t, err)
	return doc
}

func loadFixture(t testing.TB, name string) string {
	contents, err := os.ReadFile("testdata/" + name)
	require.Nil(t, err)
	return string(contents)
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		label  string
		expect Status
	}{
		{label: "予約可能", expect: StatusReservable},
		{label: "空き無", expect: StatusUnavailable},
		{label: "時間外", expect: StatusOutsideHours},
		{label: " 予約可能 ", expect: StatusReservable},
		{label: "選択中", expect: StatusUnknown},
		{label: "", expect: StatusUnknown},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, ParseStatus(test.label), test.label)
	}
}

func TestParseCalendarFixture(t *testing.T) {
	doc := parseHTML(t, loadFixture(t, "offer_list_week1.html"))
	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Empty(t, rowErrs)

	require.Len(t, calendar.DateLabels, 14)
	require.Equal(t, "08/17(Sun)", calendar.DateLabels[0])
	require.Equal(t, "08/30(Sat)", calendar.DateLabels[13])

	facilities := []string{}
	for _, row := range calendar.Rows {
		require.Len(t, row.Cells, 14)
		facilities = append(facilities, row.Facility+"/"+row.ApplicantType)
	}
	require.Equal(t, []string{
		"府中試験場/" + residentType,
		"府中試験場/" + nonResidentType,
		"鮫洲試験場/" + residentType,
		"鮫洲試験場/" + nonResidentType,
	}, facilities)

	require.Equal(t, Cell{Date: "08/17(Sun)", Status: StatusOutsideHours}, calendar.Rows[0].Cells[0])
	require.Equal(t, Cell{Date: "08/18(Mon)", Status: StatusReservable}, calendar.Rows[0].Cells[1])
	require.Equal(t, Cell{Date: "08/19(Tue)", Status: StatusUnavailable}, calendar.Rows[0].Cells[2])
}

func TestParseCalendarAlignment(t *testing.T) {
	labels := []string{"08/17", "08/18", "08/19", "08/20"}
	doc := parseHTML(t, calendarHTML(labels, []testRow{{
		facility:  "府中試験場",
		applicant: residentType,
		cells:     []string{"空き無", "予約可能", "時間外", ""},
	}}))

	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Empty(t, rowErrs)
	require.Len(t, calendar.Rows, 1)

	records := Extract(calendar)
	require.Len(t, records, len(labels))
	for i, r := range records {
		require.Equal(t, labels[i], r.Date)
	}
	require.Equal(t, []Status{StatusUnavailable, StatusReservable, StatusOutsideHours, StatusUnknown}, []Status{
		records[0].Status, records[1].Status, records[2].Status, records[3].Status,
	})
}

func TestParseCalendarPlaceholderLabels(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"", "  ", "-", "08/17", "08/18"}, nil))
	calendar, _ := ParseCalendarDocument(context.Background(), doc, targets)
	require.Equal(t, []string{"08/17", "08/18"}, calendar.DateLabels)
	require.Empty(t, calendar.Rows)
}

func TestParseCalendarOverflowCells(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"08/17", "08/18"}, []testRow{{
		facility:  "鮫洲試験場",
		applicant: residentType,
		cells: []string{
			"空き無",
			"空き無",
			`<td><a href="#"><span class="sr-only">鮫洲試験場は2025年08月19日 </span><svg aria-label="予約可能"></svg></a></td>`,
			`<td><span class="sr-only">no date here</span><svg aria-label="予約可能"></svg></td>`,
			`<td><svg aria-label="空き無"></svg></td>`,
		},
	}}))

	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Empty(t, rowErrs)
	require.Len(t, calendar.Rows, 1)

	dates := []string{}
	for _, cell := range calendar.Rows[0].Cells {
		dates = append(dates, cell.Date)
	}
	require.Equal(t, []string{"08/17", "08/18", "08/19", "Unknown date 4", "Unknown date 5"}, dates)
}

func TestParseCalendarSkipsOtherFacilities(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"08/17", "08/18"}, []testRow{
		{facility: "江東試験場", applicant: residentType, cells: []string{"予約可能", "予約可能"}},
		{facility: "府中試験場（多摩）", applicant: residentType, cells: []string{"空き無", "予約可能"}},
	}))

	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Empty(t, rowErrs)
	require.Len(t, calendar.Rows, 1)
	require.Equal(t, "府中試験場", calendar.Rows[0].Facility)
}

func TestParseCalendarRowError(t *testing.T) {
	doc := parseHTML(t, `<table>
		<tr><th>施設名</th><th>予約枠名</th></tr>
		<tr><td>08/17</td></tr>
		<tr><th>府中試験場</th></tr>
		<tr><th>鮫洲試験場</th><th>住民票のある方</th><td><svg aria-label="予約可能"></svg></td></tr>
	</table>`)

	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Len(t, rowErrs, 1)
	require.True(t, IsKind(rowErrs[0], RowParseError))

	expected := []Row{{
		Facility:      "鮫洲試験場",
		ApplicantType: "住民票のある方",
		Cells:         []Cell{{Date: "08/17", Status: StatusReservable}},
	}}
	diff := cmp.Diff(expected, calendar.Rows)
	require.Empty(t, diff)
}

func TestParseCalendarBookingLink(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"08/17"}, []testRow{{
		facility:  "府中試験場",
		applicant: residentType,
		cells:     []string{`<td><a href="reserve?date=20250817"><svg aria-label="予約可能"></svg></a></td>`},
	}}))
	base, err := url.Parse("https://example.com/keishicho-u/reserve/offerList_detail")
	require.Nil(t, err)
	doc.Url = base

	calendar, _ := ParseCalendarDocument(context.Background(), doc, targets)
	require.Equal(t, "https://example.com/keishicho-u/reserve/reserve?date=20250817", calendar.Rows[0].Cells[0].Link)
}
