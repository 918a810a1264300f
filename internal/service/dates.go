package service

import (
	"fmt"
	"time"

	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// localDayWindow converts an inclusive range of studio-local calendar days
// into the equivalent UTC instant window [from 00:00:00.000, to 23:59:59.999].
// An entry stamped at local midnight of the first day is inside the window;
// one stamped a millisecond before is not.
func localDayWindow(loc *time.Location, fromDate, toDate string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(dateLayout, fromDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
			fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", fromDate))
	}
	to, err := time.ParseInLocation(dateLayout, toDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
			fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", toDate))
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	start := from.UTC()
	// The end bound comes from the next local midnight, not a fixed 24h
	// offset, so days shortened or stretched by a DST change keep their
	// local boundary.
	end := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, loc).Add(-time.Millisecond).UTC()
	return start, end, nil
}

// parseLocalDate parses a single studio-local calendar day. The returned
// value is the date at midnight UTC, matching how occurrence dates are
// stored in the attendance table.
func parseLocalDate(raw string) (time.Time, error) {
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
			fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw))
	}
	return date, nil
}
