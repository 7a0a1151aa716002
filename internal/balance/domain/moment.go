package balance

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	// CutoffHour is the daily cutoff every moment is snapped to.
	CutoffHour = 22
	// MomentLayout renders a moment as a naive date-time.
	MomentLayout = "2006-01-02 15:04:05"
)

var (
	spacedHyphen = regexp.MustCompile(`\s*-\s*`)
	spaces       = regexp.MustCompile(`\s+`)
)

// layouts are tried in order before falling back to dateparse.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102T150405Z0700",
	"20060102T150405Z07:00",
	"20060102T150405",
	"20060102T1504Z0700",
	"20060102",
}

// Moment is a naive calendar instant snapped to the daily cutoff.
// The zero Moment is invalid.
type Moment struct {
	t time.Time
}

// NewMoment snaps the wall-clock date of t to the cutoff, discarding its zone.
func NewMoment(t time.Time) Moment {
	return Moment{t: time.Date(t.Year(), t.Month(), t.Day(), CutoffHour, 0, 0, 0, time.UTC)}
}

// ResolveMoment turns a user supplied moment into a canonical Moment.
// "now" and "today" resolve to the calendar day of now.
func ResolveMoment(input string, now time.Time) (Moment, error) {
	trimmed := strings.TrimSpace(input)
	if strings.EqualFold(trimmed, "now") || strings.EqualFold(trimmed, "today") {
		return NewMoment(now), nil
	}
	parsed, err := parseLoose(trimmed)
	if err != nil {
		return Moment{}, &ParseError{Input: input, Err: err}
	}
	return NewMoment(parsed), nil
}

func parseLoose(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, ErrEmptyMoment
	}
	normalized := spaces.ReplaceAllString(spacedHyphen.ReplaceAllString(value, "-"), " ")
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, normalized); err == nil {
			return parsed, nil
		}
	}
	return dateparse.ParseIn(normalized, time.UTC)
}

// Time returns the moment as a UTC instant, used as the store query bound.
func (m Moment) Time() time.Time { return m.t }

// IsZero reports whether the moment was never resolved.
func (m Moment) IsZero() bool { return m.t.IsZero() }

// Date returns the calendar day of the moment.
func (m Moment) Date() string { return m.t.Format("2006-01-02") }

// String renders the moment as "YYYY-MM-DD 22:00:00".
func (m Moment) String() string { return m.t.Format(MomentLayout) }

// Equal reports whether both moments denote the same instant.
func (m Moment) Equal(other Moment) bool { return m.t.Equal(other.t) }

// MarshalText implements encoding.TextMarshaler.
func (m Moment) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
