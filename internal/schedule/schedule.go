// Package schedule decides when an HH:MM medication time is due and maps
// it to a unique dose occurrence. All clock arithmetic happens in a single
// configured reference timezone, never the server's local zone.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
)

const minutesPerDay = 24 * 60

// ParseClock parses an "HH:MM" 24-hour clock string into minutes since
// midnight.
func ParseClock(clock string) (int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return 0, apperrors.New("MED_002", fmt.Sprintf("invalid schedule time %q, expected HH:MM", clock))
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, apperrors.New("MED_002", fmt.Sprintf("invalid hour in %q", clock))
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, apperrors.New("MED_002", fmt.Sprintf("invalid minute in %q", clock))
	}

	return hours*60 + minutes, nil
}

// ValidClock reports whether the string is a well-formed HH:MM time.
func ValidClock(clock string) bool {
	_, err := ParseClock(clock)
	return err == nil
}

// referenceMinutes converts an instant to minutes since midnight in the
// reference timezone, normalized into [0, 1440).
func referenceMinutes(now time.Time, offsetMinutes int) int {
	utc := now.UTC()
	mins := utc.Hour()*60 + utc.Minute() + offsetMinutes
	mins %= minutesPerDay
	if mins < 0 {
		mins += minutesPerDay
	}
	return mins
}

// IsDue reports whether the scheduled clock time falls within
// toleranceMinutes of now in the reference timezone. Distances are
// measured on the clock circle, so 23:58 and 00:02 are 4 minutes apart,
// not 1436.
func IsDue(clock string, now time.Time, offsetMinutes, toleranceMinutes int) (bool, error) {
	scheduled, err := ParseClock(clock)
	if err != nil {
		return false, err
	}

	current := referenceMinutes(now, offsetMinutes)

	diff := scheduled - current
	if diff < 0 {
		diff = -diff
	}
	if diff > minutesPerDay/2 {
		diff = minutesPerDay - diff
	}

	return diff <= toleranceMinutes, nil
}

// Occurrence is a resolved (calendar day, clock time) instance of a
// medication schedule entry.
type Occurrence struct {
	// Date is the calendar day in the reference timezone, YYYY-MM-DD.
	Date string
	// Clock is the schedule entry, HH:MM.
	Clock string
	// ScheduledAt is the absolute instant the dose was scheduled for.
	ScheduledAt time.Time
}

// Resolve maps a schedule clock time near now onto a concrete calendar
// day. The candidate is built on now's reference-timezone day, then
// shifted a day either way if the implied instant lands more than 12
// hours from now. This keeps occurrences just after midnight attached to
// the day they belong to.
func Resolve(clock string, now time.Time, offsetMinutes int) (Occurrence, error) {
	scheduled, err := ParseClock(clock)
	if err != nil {
		return Occurrence{}, err
	}

	ref := time.FixedZone("reference", offsetMinutes*60)
	local := now.In(ref)

	candidate := time.Date(local.Year(), local.Month(), local.Day(), scheduled/60, scheduled%60, 0, 0, ref)

	if candidate.Sub(now) > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, -1)
	} else if now.Sub(candidate) > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return Occurrence{
		Date:        candidate.Format("2006-01-02"),
		Clock:       clock,
		ScheduledAt: candidate,
	}, nil
}

// OccurrenceAt maps an absolute scheduled instant to its occurrence in
// the reference timezone. Manual logging and the dispatcher both derive
// occurrence IDs through this package so the two can never disagree.
func OccurrenceAt(scheduledAt time.Time, offsetMinutes int) Occurrence {
	ref := time.FixedZone("reference", offsetMinutes*60)
	local := scheduledAt.In(ref)
	return Occurrence{
		Date:        local.Format("2006-01-02"),
		Clock:       local.Format("15:04"),
		ScheduledAt: scheduledAt,
	}
}

// OccurrenceID derives the deterministic idempotency key for one dose of
// one medication on one day. The clock's colon is stripped so it cannot
// collide with the underscore separators.
func OccurrenceID(medicationID, date, clock string) string {
	return medicationID + "_" + date + "_" + strings.ReplaceAll(clock, ":", "")
}

// ID is the occurrence's idempotency key.
func (o Occurrence) ID(medicationID string) string {
	return OccurrenceID(medicationID, o.Date, o.Clock)
}
