package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Throttler paces the pipeline between chunks. A chunk in which many
// tickers came back empty is read as a sign the provider is rate limiting
// us rather than genuinely having no data, so the pause stretches out.
// This is a best-effort heuristic, not an exact rate-limit protocol; if a
// provider exposes explicit throttling signals those should win, with
// this as the fallback.
type Throttler struct {
	shortPause     time.Duration
	longPause      time.Duration
	emptyThreshold int
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewThrottler(shortPause, longPause time.Duration, emptyThreshold int) *Throttler {
	return &Throttler{
		shortPause:     shortPause,
		longPause:      longPause,
		emptyThreshold: emptyThreshold,
		sleep:          sleepCtx,
	}
}

// Pace sleeps once, choosing the long pause when emptyCount exceeds the
// threshold. It returns early with the context's error on cancellation.
func (t *Throttler) Pace(ctx context.Context, emptyCount int) error {
	pause := t.shortPause
	if emptyCount > t.emptyThreshold {
		slog.Warn("high empty-response count, backing off",
			"empty", emptyCount, "threshold", t.emptyThreshold, "pause", t.longPause)
		pause = t.longPause
	}
	return t.sleep(ctx, pause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
