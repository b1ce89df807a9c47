package price

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/fenlis/stockdb/internal/price"
)

const dateFormat = "2006-01-02"

// Repository is the SQLite-backed price sink. It implements price.Sink:
// MaxDate for checkpoint resolution and Upsert for idempotent persistence
// on the (vendor, security, date) natural key.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) MaxDate(ctx context.Context, vendorID, securityID int64) (time.Time, bool, error) {
	const query = `SELECT MAX(price_date) FROM daily_price
		WHERE data_vendor_id = ? AND security_id = ?`

	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx, query, vendorID, securityID).Scan(&dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max date: %w", err)
	}
	if !dateStr.Valid {
		// MAX over zero rows yields a NULL, not ErrNoRows.
		return time.Time{}, false, nil
	}

	t, err := time.Parse(dateFormat, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse max date %q: %w", dateStr.String, err)
	}
	return t, true, nil
}

func (r *Repository) Upsert(ctx context.Context, rec domain.Record) error {
	const query = `INSERT INTO daily_price
		(data_vendor_id, security_id, price_date, open_price, high_price, low_price, close_price, adj_close_price, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (data_vendor_id, security_id, price_date) DO UPDATE SET
			open_price = excluded.open_price,
			high_price = excluded.high_price,
			low_price = excluded.low_price,
			close_price = excluded.close_price,
			adj_close_price = excluded.adj_close_price,
			volume = excluded.volume,
			last_updated = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query,
		rec.VendorID, rec.SecurityID, rec.Date.Format(dateFormat),
		rec.Open, rec.High, rec.Low, rec.Close, rec.AdjClose, rec.Volume,
	)
	if err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}

// List returns stored records for a security in ascending date order.
func (r *Repository) List(ctx context.Context, vendorID, securityID int64, from, to time.Time) ([]domain.Record, error) {
	const query = `SELECT data_vendor_id, security_id, price_date,
			open_price, high_price, low_price, close_price, adj_close_price, volume
		FROM daily_price
		WHERE data_vendor_id = ? AND security_id = ? AND price_date >= ? AND price_date <= ?
		ORDER BY price_date ASC`

	rows, err := r.db.QueryContext(ctx, query,
		vendorID, securityID, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.Record
	for rows.Next() {
		var rec domain.Record
		var dateStr string
		if err := rows.Scan(&rec.VendorID, &rec.SecurityID, &dateStr,
			&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.AdjClose, &rec.Volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		rec.Date, _ = time.Parse(dateFormat, dateStr)
		records = append(records, rec)
	}

	return records, rows.Err()
}
