package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component. The upstream API emits
// plain YYYY-MM-DD strings for due/start dates while timestamps come as
// RFC3339; parsing both into time.Time once at ingestion keeps every later
// day computation on a single representation.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("domain: bad date %q: %w", s, err)
	}
	return Date{t.UTC()}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON accepts YYYY-MM-DD as well as full RFC3339 timestamps; some
// upstream deployments return either depending on version.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("domain: bad date %q", s)
	}
	*d = DateOf(t)
	return nil
}

// UnmarshalYAML accepts the same YYYY-MM-DD form in the sources file.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil { return err }
	if s == "" {
		*d = Date{}
		return nil
	}
	p, err := ParseDate(s)
	if err != nil { return err }
	*d = p
	return nil
}

func (d Date) MarshalYAML() (any, error) {
	if d.IsZero() { return nil, nil }
	return d.Format(dateLayout), nil
}

// ParseTimeUTC parses the timestamp layouts seen across upstream versions
// and normalizes to UTC. Returns nil for empty or unparseable input.
func ParseTimeUTC(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", dateLayout}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

// DaysCeil converts a duration to whole days, rounding any fraction up.
// Negative durations round toward zero from below (ceil of a negative
// fraction is the next integer toward zero).
func DaysCeil(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

// DaysBetween is the ceil-rounded day count from a to b.
func DaysBetween(a, b time.Time) int { return DaysCeil(b.Sub(a)) }

// WorkingDays counts Monday..Friday dates in [from, to] inclusive.
func WorkingDays(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	n := 0
	for d := DateOf(from).Time; !d.After(DateOf(to).Time); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}
