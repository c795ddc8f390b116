// Package system provides the wall clock used for run and extraction timestamps.
package system

import "time"

// Clock implements harvest.Clock. Times are UTC and truncated to microseconds,
// the precision Postgres keeps, so persisted first-seen times compare equal.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
