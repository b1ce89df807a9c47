package price

import "time"

// Bar is a single daily OHLCV observation as produced by a provider,
// before it is tied to a vendor or an internal security id.
type Bar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   int64
}

// Record is a Bar qualified with the vendor and security it belongs to.
// The triple (VendorID, SecurityID, Date) is the natural key: storing the
// same triple twice must update in place, never duplicate.
type Record struct {
	VendorID   int64
	SecurityID int64
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	AdjClose   float64
	Volume     int64
}
