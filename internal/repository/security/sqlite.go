package security

import (
	"context"
	"database/sql"
	"fmt"

	domain "github.com/fenlis/stockdb/internal/security"
)

// Repository is the SQLite-backed securities catalog. It implements
// security.Catalog and carries the bootstrap operations for the exchange
// and data_vendor reference tables.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns securities ordered by ticker, so the chunking of a run is
// stable across restarts. An empty sector returns the whole catalog.
func (r *Repository) List(ctx context.Context, sector string) ([]domain.Security, error) {
	query := `SELECT id, exchange_id, ticker, name, sector, industry
		FROM security ORDER BY ticker ASC`
	args := []any{}
	if sector != "" {
		query = `SELECT id, exchange_id, ticker, name, sector, industry
			FROM security WHERE sector = ? ORDER BY ticker ASC`
		args = append(args, sector)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list securities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var securities []domain.Security
	for rows.Next() {
		var s domain.Security
		var name, sec, ind sql.NullString
		if err := rows.Scan(&s.ID, &s.ExchangeID, &s.Ticker, &name, &sec, &ind); err != nil {
			return nil, fmt.Errorf("scan security: %w", err)
		}
		s.Name = nullable(name)
		s.Sector = nullable(sec)
		s.Industry = nullable(ind)
		securities = append(securities, s)
	}

	return securities, rows.Err()
}

// Upsert inserts or updates a security keyed by (exchange_id, ticker) and
// returns its id. Name, sector, and industry are explicitly optional: a
// nil field stays NULL on insert and is left untouched on update, so a
// sparse catalog source never erases an earlier, richer one.
func (r *Repository) Upsert(ctx context.Context, s domain.Security) (int64, error) {
	const query = `INSERT INTO security (exchange_id, ticker, name, sector, industry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (exchange_id, ticker) DO UPDATE SET
			name = COALESCE(excluded.name, name),
			sector = COALESCE(excluded.sector, sector),
			industry = COALESCE(excluded.industry, industry),
			last_updated = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query,
		s.ExchangeID, s.Ticker, s.Name, s.Sector, s.Industry); err != nil {
		return 0, fmt.Errorf("upsert security %s: %w", s.Ticker, err)
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM security WHERE exchange_id = ? AND ticker = ?`,
		s.ExchangeID, s.Ticker).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup security %s: %w", s.Ticker, err)
	}
	return id, nil
}

// EnsureExchange inserts the exchange if it does not exist yet and
// returns its id.
func (r *Repository) EnsureExchange(ctx context.Context, name, currency string) (int64, error) {
	const insert = `INSERT INTO exchange (name, currency) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, name, currency); err != nil {
		return 0, fmt.Errorf("ensure exchange %s: %w", name, err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT id FROM exchange WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup exchange %s: %w", name, err)
	}
	return id, nil
}

// EnsureVendor inserts the data vendor if it does not exist yet and
// returns its id.
func (r *Repository) EnsureVendor(ctx context.Context, name, websiteURL string) (int64, error) {
	const insert = `INSERT INTO data_vendor (name, website_url) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, name, websiteURL); err != nil {
		return 0, fmt.Errorf("ensure vendor %s: %w", name, err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT id FROM data_vendor WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup vendor %s: %w", name, err)
	}
	return id, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
