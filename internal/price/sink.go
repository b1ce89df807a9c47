package price

import (
	"context"
	"time"
)

// Sink is the durable store for price records.
type Sink interface {
	// MaxDate returns the most recent price date stored for the security
	// under the given vendor. ok is false when no rows exist, which is an
	// expected state for securities that have never been ingested.
	MaxDate(ctx context.Context, vendorID, securityID int64) (date time.Time, ok bool, err error)

	// Upsert stores one record, idempotently on the natural key: a second
	// write of the same (vendor, security, date) overwrites the OHLCV
	// fields in place.
	Upsert(ctx context.Context, rec Record) error
}
