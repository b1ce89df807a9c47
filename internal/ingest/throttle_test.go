package ingest

import (
	"context"
	"testing"
	"time"
)

func TestPace(t *testing.T) {
	const (
		short     = 10 * time.Second
		long      = 120 * time.Second
		threshold = 40
	)

	tests := []struct {
		name       string
		emptyCount int
		want       time.Duration
	}{
		{name: "no empty responses", emptyCount: 0, want: short},
		{name: "at the threshold", emptyCount: threshold, want: short},
		{name: "above the threshold", emptyCount: threshold + 1, want: long},
		{name: "far above the threshold", emptyCount: 500, want: long},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var slept []time.Duration
			th := NewThrottler(short, long, threshold)
			th.sleep = func(_ context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			}

			if err := th.Pace(context.Background(), tt.emptyCount); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(slept) != 1 {
				t.Fatalf("expected exactly one sleep, got %d", len(slept))
			}
			if slept[0] != tt.want {
				t.Errorf("slept %s, want %s", slept[0], tt.want)
			}
		})
	}
}

func TestPace_Cancelled(t *testing.T) {
	th := NewThrottler(time.Hour, time.Hour, 40)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := th.Pace(ctx, 0); err == nil {
		t.Fatal("expected context error, got nil")
	}
}
