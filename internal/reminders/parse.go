package reminders

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/match"
)

// Draft is a reminder that has not been stored yet.
type Draft struct {
	Text       string     `json:"text"`
	TriggerAt  time.Time  `json:"triggerAt"`
	Recurrence Recurrence `json:"recurrence"`
	Priority   Priority   `json:"priority"`
}

// defaultHour is used for "tomorrow" without a time.
const defaultHour = 9

const clock = `(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`

var (
	relativeAfter  = regexp.MustCompile(`(?i)^remind me to (.+?) in (\d+) (minutes?|mins?|hours?|hrs?|days?)$`)
	relativeBefore = regexp.MustCompile(`(?i)^remind me in (\d+) (minutes?|mins?|hours?|hrs?|days?) to (.+)$`)
	tomorrow       = regexp.MustCompile(`(?i)^remind me to (.+?) tomorrow(?: at ` + clock + `)?$`)
	atTime         = regexp.MustCompile(`(?i)^remind me to (.+?) at ` + clock + `$`)
	recurring      = regexp.MustCompile(`(?i)\s+(every day|daily|every week|weekly)$`)
)

// Parse turns a natural language request into a draft. Patterns are tried in
// order and the first match wins. now supplies both the reference instant and
// the location used for wall clock times.
func Parse(input string, now time.Time) (Draft, bool) {
	text := strings.TrimRight(strings.TrimSpace(input), ".!?")
	recurrence := None
	if m := recurring.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "every day", "daily":
			recurrence = Daily
		default:
			recurrence = Weekly
		}
		text = strings.TrimSpace(text[:len(text)-len(m[0])])
	}

	rules := []match.Rule[Draft]{
		{Name: "relative", Match: func(s string) (Draft, bool) {
			m := relativeAfter.FindStringSubmatch(s)
			if m == nil {
				return Draft{}, false
			}
			return relative(m[1], m[2], m[3], now)
		}},
		{Name: "relative-leading", Match: func(s string) (Draft, bool) {
			m := relativeBefore.FindStringSubmatch(s)
			if m == nil {
				return Draft{}, false
			}
			return relative(m[3], m[1], m[2], now)
		}},
		{Name: "tomorrow", Match: func(s string) (Draft, bool) {
			m := tomorrow.FindStringSubmatch(s)
			if m == nil {
				return Draft{}, false
			}
			hour, minute := defaultHour, 0
			if m[2] != "" {
				var ok bool
				if hour, minute, ok = wallClock(m[2], m[3], m[4]); !ok {
					return Draft{}, false
				}
			}
			day := now.AddDate(0, 0, 1)
			return Draft{Text: strings.TrimSpace(m[1]), TriggerAt: at(day, hour, minute)}, true
		}},
		{Name: "at", Match: func(s string) (Draft, bool) {
			m := atTime.FindStringSubmatch(s)
			if m == nil {
				return Draft{}, false
			}
			hour, minute, ok := wallClock(m[2], m[3], m[4])
			if !ok {
				return Draft{}, false
			}
			trigger := at(now, hour, minute)
			if !trigger.After(now) {
				trigger = at(now.AddDate(0, 0, 1), hour, minute)
			}
			return Draft{Text: strings.TrimSpace(m[1]), TriggerAt: trigger}, true
		}},
	}

	d, _, ok := match.Evaluate(rules, text)
	if !ok || d.Text == "" {
		return Draft{}, false
	}
	d.TriggerAt = d.TriggerAt.UTC().Truncate(time.Millisecond)
	d.Recurrence = recurrence
	d.Priority = Medium
	return d, true
}

func relative(text, amount, unit string, now time.Time) (Draft, bool) {
	n, err := strconv.Atoi(amount)
	if err != nil || n <= 0 {
		return Draft{}, false
	}
	step := 24 * time.Hour
	switch u := strings.ToLower(unit); {
	case strings.HasPrefix(u, "m"):
		step = time.Minute
	case strings.HasPrefix(u, "h"):
		step = time.Hour
	}
	if int64(n) > int64(MaxLead/step) {
		return Draft{}, false
	}
	if step == 24*time.Hour {
		// Calendar days keep the wall clock time across DST changes.
		return Draft{Text: strings.TrimSpace(text), TriggerAt: now.AddDate(0, 0, n)}, true
	}
	return Draft{Text: strings.TrimSpace(text), TriggerAt: now.Add(time.Duration(n) * step)}, true
}

// wallClock converts "7", "07:30" or "7:30pm" parts to a 24 hour time.
func wallClock(hour, minute, meridiem string) (int, int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return 0, 0, false
	}
	m := 0
	if minute != "" {
		if m, err = strconv.Atoi(minute); err != nil || m > 59 {
			return 0, 0, false
		}
	}
	switch strings.ToLower(meridiem) {
	case "am":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h != 12 {
			h += 12
		}
	default:
		if h > 23 {
			return 0, 0, false
		}
	}
	return h, m, true
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
