package timetable

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const (
	minutesPerHour = 60
	endOfDay       = Clock(24 * minutesPerHour)
)

var ErrInvalidClock = errors.New("time must be in the 24h HH:MM format")

// Clock is a time of day, in minutes since midnight.
// 24:00 is only valid as the end of a Span.
type Clock int

// ParseClock parses "HH:MM" (00:00 to 24:00).
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, ErrInvalidClock
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if m >= minutesPerHour {
		return 0, ErrInvalidClock
	}
	c := Clock(h*minutesPerHour + m)
	if c > endOfDay {
		return 0, ErrInvalidClock
	}
	return c, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/minutesPerHour, int(c)%minutesPerHour)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrInvalidClock
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Span is the half-open time range [Start, End).
type Span struct {
	Start Clock
	End   Clock
}

func (s Span) Valid() bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= endOfDay
}

// Overlaps reports whether s and o share at least one minute.
// Spans that merely touch (08:00-09:00 and 09:00-10:00) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
