package capture

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeMatch is a resolved time phrase and its byte span in the input.
type TimeMatch struct {
	When       time.Time
	Start, End int
}

type timeRule struct {
	re   *regexp.Regexp
	eval func(m []string, now time.Time) (time.Time, bool)
}

const clockGroup = `(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`

// Rules are tried in order, so phrases that carry both a day and a clock
// time come before the bare forms.
var timeRules = []timeRule{
	{regexp.MustCompile(`(?i)\bin (\d+) (minute|min|hour|hr|day|week)s?\b`), func(m []string, now time.Time) (time.Time, bool) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * unitDuration(m[2])), true
	}},
	{regexp.MustCompile(`(?i)\bin half an hour\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return now.Add(30 * time.Minute), true
	}},
	{regexp.MustCompile(`(?i)\bin an? (minute|hour|day|week)\b`), func(m []string, now time.Time) (time.Time, bool) {
		return now.Add(unitDuration(m[1])), true
	}},
	{regexp.MustCompile(`(?i)\bat ` + clockGroup + `\s+tomorrow\b`), func(m []string, now time.Time) (time.Time, bool) {
		return onDay(now.AddDate(0, 0, 1), m[1], m[2], m[3])
	}},
	{regexp.MustCompile(`(?i)\btomorrow\s+(?:at\s+)?` + clockGroup), func(m []string, now time.Time) (time.Time, bool) {
		return onDay(now.AddDate(0, 0, 1), m[1], m[2], m[3])
	}},
	{regexp.MustCompile(`(?i)\btomorrow (morning|afternoon|evening|night)\b`), func(m []string, now time.Time) (time.Time, bool) {
		return at(now.AddDate(0, 0, 1), partOfDay(m[1]), 0), true
	}},
	{regexp.MustCompile(`(?i)\btomorrow\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return at(now.AddDate(0, 0, 1), 9, 0), true
	}},
	{regexp.MustCompile(`(?i)\btoday\s+(?:at\s+)?` + clockGroup), func(m []string, now time.Time) (time.Time, bool) {
		return onDay(now, m[1], m[2], m[3])
	}},
	{regexp.MustCompile(`(?i)\b(?:on |by |next |this )?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+at\s+` + clockGroup + `)?`), func(m []string, now time.Time) (time.Time, bool) {
		day := nextWeekday(now, m[1])
		if m[2] == "" {
			return at(day, 9, 0), true
		}
		return onDay(day, m[2], m[3], m[4])
	}},
	{regexp.MustCompile(`(?i)\b(?:at )?noon\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return rollForward(at(now, 12, 0), now), true
	}},
	{regexp.MustCompile(`(?i)\b(?:at )?midnight\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return at(now.AddDate(0, 0, 1), 0, 0), true
	}},
	{regexp.MustCompile(`(?i)\b(?:at|by) ` + clockGroup), func(m []string, now time.Time) (time.Time, bool) {
		t, ok := onDay(now, m[1], m[2], m[3])
		if !ok {
			return t, false
		}
		return rollForward(t, now), true
	}},
	{regexp.MustCompile(`(?i)\btonight\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return at(now, 20, 0), true
	}},
	{regexp.MustCompile(`(?i)\bthis (morning|afternoon|evening)\b`), func(m []string, now time.Time) (time.Time, bool) {
		if m[1] == "morning" && now.Hour() >= 12 {
			return at(now.AddDate(0, 0, 1), 9, 0), true
		}
		return at(now, partOfDay(m[1]), 0), true
	}},
	{regexp.MustCompile(`(?i)\bnext week\b`), func(_ []string, now time.Time) (time.Time, bool) {
		return now.AddDate(0, 0, 7), true
	}},
}

// ParseTime finds the first time phrase in text and resolves it against
// now, in now's location.
func ParseTime(text string, now time.Time) (TimeMatch, bool) {
	for _, rule := range timeRules {
		loc := rule.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = strings.ToLower(text[loc[2*i]:loc[2*i+1]])
			}
		}
		if when, ok := rule.eval(m, now); ok {
			return TimeMatch{When: when, Start: loc[0], End: loc[1]}, true
		}
	}
	return TimeMatch{}, false
}

func unitDuration(unit string) time.Duration {
	switch strings.ToLower(unit) {
	case "minute", "min":
		return time.Minute
	case "hour", "hr":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	}
	return 0
}

func partOfDay(name string) int {
	switch name {
	case "morning":
		return 9
	case "afternoon":
		return 14
	case "evening":
		return 18
	}
	return 20
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// onDay applies a clock reading to day. Bare hours from 1 to 7 read as
// afternoon or evening: nobody sets a reminder "at 3" meaning 3am.
func onDay(day time.Time, hourText, minuteText, meridiem string) (time.Time, bool) {
	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if minuteText != "" {
		if minute, err = strconv.Atoi(minuteText); err != nil {
			return time.Time{}, false
		}
	}
	switch strings.ReplaceAll(meridiem, ".", "") {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		if hour >= 1 && hour < 8 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return at(day, hour, minute), true
}

// rollForward moves a clock time that already passed today to tomorrow.
func rollForward(t, now time.Time) time.Time {
	if !t.After(now) {
		return t.AddDate(0, 0, 1)
	}
	return t
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// nextWeekday returns the next occurrence of name strictly after today.
func nextWeekday(now time.Time, name string) time.Time {
	ahead := int(weekdays[name]-now.Weekday()+7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return now.AddDate(0, 0, ahead)
}
