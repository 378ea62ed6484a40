package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Clinic converts between the clinic's fixed local timezone and absolute
// instants. Appointment timestamps are persisted as naive local strings (no
// offset) and must always be interpreted in the clinic zone, never in the
// process default zone.
type Clinic struct {
	loc *time.Location
}

const clinicLocalLayout = "2006-01-02 15:04:05"

// DefaultClinic is Brasília (fixed UTC-3; Brazil no longer observes DST).
func DefaultClinic() *Clinic {
	return NewClinic(-3 * 60 * 60)
}

// NewClinic builds a clinic zone from a fixed UTC offset in seconds.
func NewClinic(offsetSeconds int) *Clinic {
	name := fmt.Sprintf("UTC%+03d", offsetSeconds/3600)
	return &Clinic{loc: time.FixedZone(name, offsetSeconds)}
}

// Location exposes the clinic zone for calendar arithmetic.
func (c *Clinic) Location() *time.Location {
	return c.loc
}

// NormalizeStoredTimestamp parses a persisted appointment timestamp into an
// absolute instant. Naive values ("2025-07-15 13:00:00" or
// "2025-07-15T13:00:00") are interpreted in the clinic zone; values carrying
// an offset or Z are parsed directly.
func (c *Clinic) NormalizeStoredTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	naiveLayouts := []string{
		clinicLocalLayout,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, c.loc); err == nil {
			return t, nil
		}
	}

	if t, err := time.ParseInLocation("2006-01-02", raw, c.loc); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ToClinicLocalString renders an instant as the naive local representation
// used in stored records and conflict summaries.
func (c *Clinic) ToClinicLocalString(t time.Time) string {
	return t.In(c.loc).Format(clinicLocalLayout)
}

// LocalClock renders just the wall-clock portion (HH:MM) in clinic time.
func (c *Clinic) LocalClock(t time.Time) string {
	return t.In(c.loc).Format("15:04")
}

// DayBounds returns the clinic-local window for a calendar date and working
// hours expressed as "HH:MM" strings.
func (c *Clinic) DayBounds(date string, workStart, workEnd string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), c.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start, err := atClock(day, workStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid working-hours start: %w", err)
	}
	end, err := atClock(day, workEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid working-hours end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("working hours end %q not after start %q", workEnd, workStart)
	}
	return start, end, nil
}

func atClock(day time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

// RoundUpToHalfHour advances t to the next 30-minute boundary; instants
// already on a boundary are returned unchanged.
func RoundUpToHalfHour(t time.Time) time.Time {
	floored := t.Truncate(30 * time.Minute)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(30 * time.Minute)
}
