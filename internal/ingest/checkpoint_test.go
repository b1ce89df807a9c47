package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fenlis/stockdb/internal/price"
)

// maxDateSink is a price.Sink stub for checkpoint tests: only MaxDate
// matters here.
type maxDateSink struct {
	dates map[int64]time.Time
	err   error
}

func (s *maxDateSink) MaxDate(_ context.Context, _ int64, securityID int64) (time.Time, bool, error) {
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	d, ok := s.dates[securityID]
	return d, ok, nil
}

func (s *maxDateSink) Upsert(_ context.Context, _ price.Record) error { return nil }

func TestResolveStart(t *testing.T) {
	today := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		stored    map[int64]time.Time
		wantStart time.Time
		wantSkip  bool
	}{
		{
			name:      "no history falls back to backfill horizon",
			stored:    nil,
			wantStart: time.Date(2022, 6, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "resumes the day after the stored maximum",
			stored:    map[int64]time.Time{1: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
			wantStart: time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "already current is skipped",
			stored:   map[int64]time.Time{1: today},
			wantSkip: true,
		},
		{
			name:      "yesterday resumes at today",
			stored:    map[int64]time.Time{1: today.AddDate(0, 0, -1)},
			wantStart: today,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := NewCheckpointer(&maxDateSink{dates: tt.stored}, 7, 2)
			cp.now = func() time.Time { return today.Add(13 * time.Hour) } // mid-day

			start, skip, err := cp.ResolveStart(context.Background(), 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if skip != tt.wantSkip {
				t.Fatalf("skip = %v, want %v", skip, tt.wantSkip)
			}
			if !tt.wantSkip && !start.Equal(tt.wantStart) {
				t.Errorf("start = %s, want %s",
					start.Format("2006-01-02"), tt.wantStart.Format("2006-01-02"))
			}
		})
	}
}

func TestResolveStart_SinkError(t *testing.T) {
	sinkErr := errors.New("db locked")
	cp := NewCheckpointer(&maxDateSink{err: sinkErr}, 7, 2)

	_, _, err := cp.ResolveStart(context.Background(), 1)
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
}
