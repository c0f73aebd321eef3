package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidWindow = errors.New("invalid time window")

// Window bounds a listing by prediction creation time. A zero From or To
// leaves that side open.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow checks that from is not after to.
func NewWindow(from, to time.Time) (Window, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return Window{}, fmt.Errorf("%w: %s is after %s", ErrInvalidWindow,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Window{From: from, To: to}, nil
}

// IsZero reports whether both sides are open.
func (w Window) IsZero() bool { return w.From.IsZero() && w.To.IsZero() }

// ParseTimeBound parses an RFC3339 timestamp or a YYYY-MM-DD date. A date
// used as an upper bound covers the whole day. An empty string is an open
// bound.
func ParseTimeBound(s string, upper bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither RFC3339 nor YYYY-MM-DD", ErrInvalidWindow, s)
	}
	if upper {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
