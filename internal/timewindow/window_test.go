package timewindow

import (
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	windows := []Window{
		{Name: "morning", Hour: 8, Tolerance: 15 * time.Minute},
		{Name: "evening", Hour: 20, Tolerance: 10 * time.Minute},
	}

	tests := []struct {
		name  string
		at    string
		valid bool
		win   string
	}{
		{name: "inside morning", at: "2026-03-02T08:10:00Z", valid: true, win: "morning"},
		{name: "on the hour", at: "2026-03-02T08:00:00Z", valid: true, win: "morning"},
		{name: "past tolerance", at: "2026-03-02T08:20:00Z", valid: false},
		{name: "just before", at: "2026-03-02T07:59:59Z", valid: false},
		{name: "inside evening", at: "2026-03-02T20:05:00Z", valid: true, win: "evening"},
		{name: "between windows", at: "2026-03-02T12:00:00Z", valid: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tt.at)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.at, err)
			}
			got := Check(now, time.UTC, windows)
			if got.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.valid)
			}
			if got.Name != tt.win {
				t.Fatalf("Name = %q, want %q", got.Name, tt.win)
			}
		})
	}
}

func TestCheckUsesExplicitLocation(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	windows := []Window{{Name: "morning", Hour: 8, Tolerance: 15 * time.Minute}}

	// 13:10 UTC is 08:10 in New York (EST, UTC-5).
	now := time.Date(2026, time.January, 12, 13, 10, 0, 0, time.UTC)
	got := Check(now, loc, windows)
	if !got.Valid || got.Name != "morning" {
		t.Fatalf("expected morning window in New York, got %+v", got)
	}
	if Check(now, time.UTC, windows).Valid {
		t.Fatal("13:10 UTC should not match the morning window in UTC")
	}
}
