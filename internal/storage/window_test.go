package storage

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeBound(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		upper   bool
		want    time.Time
		wantErr bool
	}{
		{"empty is open", "", false, time.Time{}, false},
		{"rfc3339", "2024-03-01T10:30:00Z", false, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"date lower", "2024-03-01", false, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"date upper covers the day", "2024-03-01", true, time.Date(2024, 3, 1, 23, 59, 59, 999999999, time.UTC), false},
		{"garbage", "last tuesday", false, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeBound(tt.in, tt.upper)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidWindow) {
					t.Errorf("expected ErrInvalidWindow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimeBound(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWindow(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := NewWindow(day.Add(time.Hour), day); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow for reversed bounds, got %v", err)
	}
	if w, err := NewWindow(day, time.Time{}); err != nil || w.IsZero() {
		t.Errorf("half-open window rejected: %v", err)
	}
	if w, _ := NewWindow(time.Time{}, time.Time{}); !w.IsZero() {
		t.Error("expected zero window")
	}
}
