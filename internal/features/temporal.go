package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrNegativeDayCount = errors.New("negative day count has no square root")
)

// Epoch is the first day of the training sample. Day counts are measured
// from it.
var Epoch = time.Date(2017, time.December, 1, 0, 0, 0, 0, time.UTC)

// Temporal holds the features derived from a search timestamp.
type Temporal struct {
	Hour     int // 0-23
	Weekday  int // 0=Monday .. 6=Sunday
	DayCount int // days between the calendar date and Epoch, negative before it

	// SqrtDayCount is nil when DayCount is negative.
	SqrtDayCount *float64
}

// Sqrt returns the square root of the day count.
func (t Temporal) Sqrt() (float64, error) {
	if t.SqrtDayCount == nil {
		return 0, fmt.Errorf("%w: day count %d", ErrNegativeDayCount, t.DayCount)
	}
	return *t.SqrtDayCount, nil
}

// ExtractTemporal derives the temporal features of ts. The calendar date and
// hour are taken in ts's own location.
func ExtractTemporal(ts time.Time) Temporal {
	y, m, d := ts.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	days := int(date.Sub(Epoch) / (24 * time.Hour))

	t := Temporal{
		Hour:     ts.Hour(),
		Weekday:  (int(ts.Weekday()) + 6) % 7,
		DayCount: days,
	}
	if days >= 0 {
		t.SqrtDayCount = floatPtr(math.Sqrt(float64(days)))
	}
	return t
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses the Date field of a search request.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}
