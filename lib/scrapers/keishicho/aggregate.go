package keishicho

import (
	"fmt"
	"html"
	"strings"
)

const (
	DefaultResidentMarker    = "住民票のある方"
	DefaultNonResidentMarker = "住民票のない方"

	NoSlots = "❌ No slots"
)

// Filter selects records by applicant type.
type Filter int

const (
	FilterAll Filter = iota
	// FilterResident keeps applicant types for people with a resident
	// registration, the default.
	FilterResident
	// FilterNonResident keeps applicant types for people without one.
	FilterNonResident
)

// ParseFilter accepts the subscription names used by the bot, in
// english or japanese.
func ParseFilter(s string) (Filter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "すべて", "全て":
		return FilterAll, true
	case "relevant", "relevant_only", "関連", "ari", "ari_only", "ある方":
		return FilterResident, true
	case "nai", "nai_only", "ない方":
		return FilterNonResident, true
	}
	return FilterAll, false
}

// FilterNames lists the canonical names accepted by ParseFilter.
func FilterNames() []string {
	return []string{"all", "relevant", "nai", "ari"}
}

func (f Filter) String() string {
	switch f {
	case FilterResident:
		return "relevant"
	case FilterNonResident:
		return "nai"
	}
	return "all"
}

// Markers are the applicant type substrings the filters look for.
type Markers struct {
	Resident    string
	NonResident string
}

func DefaultMarkers() Markers {
	return Markers{
		Resident:    DefaultResidentMarker,
		NonResident: DefaultNonResidentMarker,
	}
}

// Apply returns the records that pass f. Applying a filter to its own
// output returns the same records.
func (f Filter) Apply(records []AvailabilityRecord, markers Markers) []AvailabilityRecord {
	if f == FilterAll {
		return records
	}
	marker := markers.Resident
	if f == FilterNonResident {
		marker = markers.NonResident
	}
	out := []AvailabilityRecord{}
	for _, r := range records {
		if strings.Contains(r.ApplicantType, marker) {
			out = append(out, r)
		}
	}
	return out
}

// Dedupe drops repeated (date, facility, applicant type) records, which
// happens when consecutive windows overlap. The first one wins.
func Dedupe(records []AvailabilityRecord) []AvailabilityRecord {
	type key struct {
		date, facility, applicantType string
	}
	seen := map[key]bool{}
	out := make([]AvailabilityRecord, 0, len(records))
	for _, r := range records {
		k := key{r.Date, r.Facility, r.ApplicantType}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

type FacilityGroup struct {
	Facility string
	Records  []AvailabilityRecord
}

type DateGroup struct {
	Date       string
	Facilities []FacilityGroup
}

// Group nests records by date and then facility, both in first seen order.
func Group(records []AvailabilityRecord) []DateGroup {
	groups := []DateGroup{}
	dateIndex := map[string]int{}
	facilityIndex := map[string]map[string]int{}

	for _, r := range records {
		di, ok := dateIndex[r.Date]
		if !ok {
			di = len(groups)
			dateIndex[r.Date] = di
			facilityIndex[r.Date] = map[string]int{}
			groups = append(groups, DateGroup{Date: r.Date})
		}
		fi, ok := facilityIndex[r.Date][r.Facility]
		if !ok {
			fi = len(groups[di].Facilities)
			facilityIndex[r.Date][r.Facility] = fi
			groups[di].Facilities = append(groups[di].Facilities, FacilityGroup{Facility: r.Facility})
		}
		groups[di].Facilities[fi].Records = append(groups[di].Facilities[fi].Records, r)
	}
	return groups
}

// Presenter renders scan results as chat messages in telegram's html
// subset.
type Presenter struct {
	TargetURL  string
	Facilities []string
	Markers    Markers
}

// Empty returns the message sent when filter leaves nothing to show.
func (p Presenter) Empty(filter Filter) string {
	switch filter {
	case FilterResident:
		return fmt.Sprintf("❌ No relevant slots found (only showing %s)", p.Markers.Resident)
	case FilterNonResident:
		return fmt.Sprintf("❌ No %s slots found", p.Markers.NonResident)
	}
	return NoSlots
}

// Render formats the reservable records of result that pass filter.
func (p Presenter) Render(result AggregateResult, filter Filter) string {
	if len(result.Records) == 0 {
		return NoSlots
	}
	records := filter.Apply(result.Records, p.Markers)
	if len(records) == 0 {
		return p.Empty(filter)
	}

	var b strings.Builder
	b.WriteString("🎉 <b>Available Reservation Slots Found!</b>\n\n")
	fmt.Fprintf(&b, "📍 <b>Facilities:</b> %s\n\n", html.EscapeString(strings.Join(p.Facilities, ", ")))
	b.WriteString("<b>To book, click the <i>予約可能 (reservable)</i> or <i>選択中 (selected)</i> mark on your desired date on the calendar. Then proceed with the booking process.</b>\n\n")

	linked := false
	for _, date := range Group(records) {
		fmt.Fprintf(&b, "📅 <b>%s</b>\n", html.EscapeString(date.Date))
		for _, facility := range date.Facilities {
			fmt.Fprintf(&b, "   🏢 <b>%s</b>\n", html.EscapeString(facility.Facility))
			for _, r := range facility.Records {
				link := r.Link
				if link != "" {
					linked = true
				} else {
					link = p.TargetURL
				}
				fmt.Fprintf(&b, "      • %s — <a href='%s'>Book</a>\n", html.EscapeString(r.ApplicantType), html.EscapeString(link))
			}
		}
		b.WriteString("\n")
	}

	if !linked {
		fmt.Fprintf(&b, "🔗 <a href='%s'>Book Now</a>", html.EscapeString(p.TargetURL))
	}
	return b.String()
}

// HasSlots reports whether filter leaves anything to notify about.
func (p Presenter) HasSlots(result AggregateResult, filter Filter) bool {
	return len(filter.Apply(result.Records, p.Markers)) > 0
}
