// Package faults holds the error taxonomy shared by the calendar, session and
// bar packages.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingData marks a day with neither persisted bars nor ticks. Loaders
// skip such days; it never aborts a multi-day load.
var ErrMissingData = errors.New("missing data")

// ErrNotApplicable is reported for numeric results that hit the "N/A" sentinel.
var ErrNotApplicable = errors.New("value not applicable")

// CalendarResolutionError reports an unknown exchange or a template that
// cannot be resolved for an instrument.
type CalendarResolutionError struct {
	Exchange string
	Code     string
	Reason   string
}

func (e *CalendarResolutionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("calendar resolution: exchange %q: %s", e.Exchange, e.Reason)
	}
	return fmt.Sprintf("calendar resolution: %s.%s: %s", e.Exchange, e.Code, e.Reason)
}

// DataIntegrityError aborts a single day's result. It is never repaired.
type DataIntegrityError struct {
	Instrument string
	Day        time.Time
	Level      string
	Reason     string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s %s: %s",
		e.Instrument, e.Day.Format("2006-01-02"), e.Level, e.Reason)
}

// IsIntegrity reports whether err carries a DataIntegrityError.
func IsIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}

// IsResolution reports whether err carries a CalendarResolutionError.
func IsResolution(err error) bool {
	var ce *CalendarResolutionError
	return errors.As(err, &ce)
}
