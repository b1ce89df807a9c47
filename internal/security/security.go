package security

import "context"

// Security is one row of the securities master. Sector and Industry are
// optional attributes: nil means the catalog has no classification for
// the ticker, which is a normal state, not an error.
type Security struct {
	ID         int64
	ExchangeID int64
	Ticker     string
	Name       *string
	Sector     *string
	Industry   *string
}

// Catalog resolves the ticker universe for an ingestion run. Implementations
// must return securities in a stable order within a run so that a manual
// restart resumes chunking at the same boundaries.
type Catalog interface {
	// List returns all securities, optionally filtered by sector.
	// An empty sector means no filter.
	List(ctx context.Context, sector string) ([]Security, error)
}
