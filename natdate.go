package gtdlog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// months is the fixed, corrected month table: twelve full
// three-letter abbreviations. The retrieved source carries a draft where a
// missing comma between "jun" and "jul" concatenates them into "junjul",
// making every June and July date unparseable; this table fixes that.
var months = []string{
	"jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
}

var weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

var natDatePattern = regexp.MustCompile(
	`^(?:in (\d+)([dwmy])|on (mon|tue|wed|thu|fri|sat|sun)|on (` +
		strings.Join(months, "|") + `) (\d+))$`,
)

// ParseNaturalDate parses one of three phrase forms relative to today:
//
//	in <N>[dwmy]  — N days/weeks/months(×30)/years(×365) from today
//	on <weekday>  — the next occurrence of that weekday, tomorrow onward
//	on <mon> <dd> — the next occurrence of that month/day, rolling to next
//	                year if it has already passed this year
func ParseNaturalDate(s string, today time.Time) (time.Time, error) {
	m := natDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("gtdlog: %w: unrecognized date phrase %q", ErrParse, s)
	}
	today = truncateToDay(today)

	switch {
	case m[1] != "":
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("gtdlog: %w: bad count in %q", ErrParse, s)
		}
		switch m[2] {
		case "w":
			n *= 7
		case "m":
			n *= 30
		case "y":
			n *= 365
		}
		return today.AddDate(0, 0, n), nil

	case m[3] != "":
		target := indexOf(weekdays, m[3])
		t := today.AddDate(0, 0, 1)
		for int(t.Weekday()+6)%7 != target {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil

	default:
		monthIdx := indexOf(months, m[4])
		day, err := strconv.Atoi(m[5])
		if err != nil {
			return time.Time{}, fmt.Errorf("gtdlog: %w: bad day in %q", ErrParse, s)
		}
		t := time.Date(today.Year(), time.Month(monthIdx+1), day, 0, 0, 0, 0, today.Location())
		if !t.After(today) {
			t = time.Date(today.Year()+1, time.Month(monthIdx+1), day, 0, 0, 0, 0, today.Location())
		}
		return t, nil
	}
}

// FormatScheduledTag renders a parsed date as the "$YYYY-MM-DD" scheduled
// tag form consumed by the fold.
func FormatScheduledTag(t time.Time) string {
	return "$" + t.Format("2006-01-02")
}
