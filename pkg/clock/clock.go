// Package clock abstracts wall time so schedulers and timers can be tested with a fake.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }
