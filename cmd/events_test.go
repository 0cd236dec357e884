package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/attendance"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	start, end, err := parseRange("", "", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("parseRange() error = %v", err)
	}
	if !end.Equal(now) || !start.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("default range = %v .. %v", start, end)
	}

	start, end, err = parseRange("2026-10-01T00:00:00Z", "2026-10-02T00:00:00Z", time.Hour, now)
	if err != nil {
		t.Fatalf("parseRange() error = %v", err)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("explicit range = %v .. %v", start, end)
	}

	if _, _, err := parseRange("2026-10-02T00:00:00Z", "2026-10-01T00:00:00Z", time.Hour, now); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, _, err := parseRange("yesterday", "", time.Hour, now); err == nil {
		t.Error("expected error for malformed --from")
	}
}

func TestDescribeEnrollment(t *testing.T) {
	got := describeEnrollment(attendance.Enrolled{OwnerID: "jan-novak", Samples: 3, Replaced: true})
	if got != "jan-novak re-enrolled with 3 samples" {
		t.Errorf("describeEnrollment() = %q", got)
	}

	got = describeEnrollment(attendance.EnrollmentRejected{
		OwnerID: "eva",
		Reason:  attendance.ReasonDuplicateIdentity,
		Message: "samples match already enrolled owner jan-novak",
	})
	if !strings.Contains(got, "duplicate_identity") || !strings.HasPrefix(got, "eva rejected") {
		t.Errorf("describeEnrollment() = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{90 * 24 * time.Hour, "2160h0m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
