package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component, formatted YYYY-MM-DD.
// The zero value is the empty string.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", errors.Wrapf(err, "parse date %q", s)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(dateLayout))
}

func (d Date) String() string { return string(d) }

func (d Date) time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

func (d Date) Weekday() time.Weekday {
	return d.time().Weekday()
}

func (d Date) AddDays(n int) Date {
	return Date(d.time().AddDate(0, 0, n).Format(dateLayout))
}

func (d Date) Before(o Date) bool { return d < o }

// Clock values are "HH:MM" on a 24h clock. They sort lexically.

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, errors.Newf("clock %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Newf("clock %q has invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, errors.Newf("clock %q has invalid minute", s)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ClockOf returns the HH:MM of t in t's own location.
func ClockOf(t time.Time) string {
	return formatClock(t.Hour()*60 + t.Minute())
}

func (k SlotKey) String() string {
	return k.ProviderID + "/" + k.Date.String() + "/" + k.Start
}

// ParseSlotKey reverses SlotKey.String. It is the opaque slot reference
// handed out with availability results.
func ParseSlotKey(ref string) (SlotKey, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 || parts[0] == "" {
		return SlotKey{}, errors.Newf("invalid slot reference %q", ref)
	}
	date, err := ParseDate(parts[1])
	if err != nil {
		return SlotKey{}, err
	}
	if _, err := parseClock(parts[2]); err != nil {
		return SlotKey{}, errors.Wrapf(err, "invalid slot reference %q", ref)
	}
	return SlotKey{ProviderID: parts[0], Date: date, Start: parts[2]}, nil
}
