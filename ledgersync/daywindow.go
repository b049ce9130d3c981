package ledgersync

import (
	"fmt"
	"strings"
	"time"
)

const businessDateLayout = "2006-01-02"

// ParseBusinessDate reads YYYY-MM-DD as a calendar date in loc. Empty means today in loc.
func ParseBusinessDate(date string, loc *time.Location, now time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation(businessDateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return day, nil
}

// DayWindow returns [start, end) in UTC for the local calendar day containing day.
// Each bound takes the offset in effect at that instant, so days next to a DST change
// are 23 or 25 hours long.
func DayWindow(day time.Time, loc *time.Location) (time.Time, time.Time) {
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}
