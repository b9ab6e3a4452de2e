package keishicho

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractReservableScenario(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"08/17", "08/18", "08/19"}, []testRow{{
		facility:  "府中試験場",
		applicant: residentType,
		cells:     []string{"空き無", "予約可能", "時間外"},
	}}))
	calendar, _ := ParseCalendarDocument(context.Background(), doc, targets)

	records := Reservable(context.Background(), Extract(calendar))
	require.Equal(t, []AvailabilityRecord{{
		Date:          "08/18",
		Facility:      "府中試験場",
		ApplicantType: residentType,
		Status:        StatusReservable,
	}}, records)
}

func TestExtractDropsUnknown(t *testing.T) {
	calendar := CalendarPage{
		DateLabels: []string{"08/17", "08/18"},
		Rows: []Row{{
			Facility:      "鮫洲試験場",
			ApplicantType: residentType,
			Cells: []Cell{
				{Date: "08/17", Status: StatusUnknown},
				{Date: "08/18", Status: StatusUnknown},
			},
		}},
	}
	records := Extract(calendar)
	require.Len(t, records, 2)
	require.Empty(t, Reservable(context.Background(), records))
}

func TestExtractNoTargetRows(t *testing.T) {
	doc := parseHTML(t, calendarHTML([]string{"08/17", "08/18"}, []testRow{{
		facility:  "江東試験場",
		applicant: residentType,
		cells:     []string{"予約可能", "予約可能"},
	}}))
	calendar, rowErrs := ParseCalendarDocument(context.Background(), doc, targets)
	require.Empty(t, rowErrs)

	require.Empty(t, Extract(calendar))
	require.Empty(t, Reservable(context.Background(), Extract(calendar)))
}

func TestExtractFixture(t *testing.T) {
	doc := parseHTML(t, loadFixture(t, "offer_list_week1.html"))
	calendar, _ := ParseCalendarDocument(context.Background(), doc, targets)

	records := Reservable(context.Background(), Extract(calendar))
	require.Equal(t, []AvailabilityRecord{
		{Date: "08/18(Mon)", Facility: "府中試験場", ApplicantType: residentType, Status: StatusReservable},
		{Date: "08/21(Thu)", Facility: "府中試験場", ApplicantType: residentType, Status: StatusReservable},
		{Date: "08/21(Thu)", Facility: "府中試験場", ApplicantType: nonResidentType, Status: StatusReservable},
		{Date: "08/18(Mon)", Facility: "鮫洲試験場", ApplicantType: residentType, Status: StatusReservable},
	}, records)
}
