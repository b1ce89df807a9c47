package price

import (
	"context"
	"time"
)

// Fetcher abstracts the upstream market-data provider.
//
// Fetch returns daily bars for the range [from, now], ordered by date.
// An empty slice is a valid outcome, not an error: the provider simply has
// no data for the ticker in that range (delisted or unknown symbols land
// here too). A non-nil error means the transport or the provider itself
// failed, which drives different throttling behavior than an empty result.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, from time.Time) ([]Bar, error)
}
