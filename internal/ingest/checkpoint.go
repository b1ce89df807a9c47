package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fenlis/stockdb/internal/price"
)

// Checkpointer computes the resume point for a security from the sink's
// current state. There is no separate checkpoint store: re-deriving the
// cursor from stored rows on every run makes resumption self-healing
// across crashes.
type Checkpointer struct {
	sink          price.Sink
	vendorID      int64
	backfillYears int
	now           func() time.Time
}

func NewCheckpointer(sink price.Sink, vendorID int64, backfillYears int) *Checkpointer {
	return &Checkpointer{
		sink:          sink,
		vendorID:      vendorID,
		backfillYears: backfillYears,
		now:           time.Now,
	}
}

// ResolveStart returns the date from which to fetch for the security.
// skip is true when the stored history already reaches today, in which
// case no fetch is needed. With no stored history the start falls back to
// the backfill horizon (today minus backfillYears). Absence of history is
// an expected state, never an error.
func (c *Checkpointer) ResolveStart(ctx context.Context, securityID int64) (start time.Time, skip bool, err error) {
	today := truncateToDay(c.now())

	last, ok, err := c.sink.MaxDate(ctx, c.vendorID, securityID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max date for security %d: %w", securityID, err)
	}
	if !ok {
		return today.AddDate(-c.backfillYears, 0, 0), false, nil
	}

	last = truncateToDay(last)
	if !last.Before(today) {
		return time.Time{}, true, nil
	}
	return last.AddDate(0, 0, 1), false, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
