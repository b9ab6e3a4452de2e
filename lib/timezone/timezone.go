package timezone

import (
	"time"
	_ "time/tzdata"
)

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
}

// the reservation calendar is in JST regardless of where the bot is
// hosted, user facing timestamps follow it.
func Now() time.Time {
	return time.Now().In(Location)
}

// Format renders t in JST as "2006-01-02 15:04:05".
func Format(t time.Time) string {
	return t.In(Location).Format(time.DateTime)
}
