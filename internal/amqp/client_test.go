package amqp

import (
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		got := exponentialBackoff(tt.attempt)
		if got != tt.want {
			t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"closed channel", errors.New("Exception (504) Reason: \"channel/connection is not open\""), true},
		{"validation error", errors.New("marshal job: invalid payload"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.want {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestScanJobMessageRoundTrip(t *testing.T) {
	msg := NewScanJobMessage("job-1", "fra", []byte{0xff, 0xd8, 0xff})

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	got, err := ScanJobMessageFromJSON(data)
	if err != nil {
		t.Fatalf("ScanJobMessageFromJSON() error = %v", err)
	}

	if got.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", got.JobID, "job-1")
	}
	if got.Language != "fra" {
		t.Errorf("Language = %q, want %q", got.Language, "fra")
	}
	if len(got.Image) != 3 || got.Image[0] != 0xff {
		t.Errorf("Image = %v, want original bytes", got.Image)
	}
}

func TestScanEventMessageFromJSONRejectsGarbage(t *testing.T) {
	if _, err := ScanEventMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
