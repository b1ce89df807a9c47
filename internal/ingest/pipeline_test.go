package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fenlis/stockdb/internal/price"
	"github.com/fenlis/stockdb/internal/security"
)

// --- stub catalog ---

type stubCatalog struct {
	securities []security.Security
	err        error
}

func (c *stubCatalog) List(_ context.Context, _ string) ([]security.Security, error) {
	return c.securities, c.err
}

// --- stub fetcher ---

type stubFetcher struct {
	mu    sync.Mutex
	bars  map[string][]price.Bar
	errs  map[string]error
	calls map[string]time.Time // ticker -> requested start date
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bars:  make(map[string][]price.Bar),
		errs:  make(map[string]error),
		calls: make(map[string]time.Time),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, ticker string, from time.Time) ([]price.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ticker] = from
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.bars[ticker], nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- in-memory sink ---

type memSink struct {
	mu        sync.Mutex
	rows      map[string]price.Record
	upsertErr map[string]error // "securityID|date" -> forced error
}

func newMemSink() *memSink {
	return &memSink{
		rows:      make(map[string]price.Record),
		upsertErr: make(map[string]error),
	}
}

func sinkKey(vendorID, securityID int64, date time.Time) string {
	return fmt.Sprintf("%d|%d|%s", vendorID, securityID, date.Format("2006-01-02"))
}

func (s *memSink) seed(rec price.Record) {
	s.rows[sinkKey(rec.VendorID, rec.SecurityID, rec.Date)] = rec
}

func (s *memSink) MaxDate(_ context.Context, vendorID, securityID int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxDate time.Time
	found := false
	for _, rec := range s.rows {
		if rec.VendorID == vendorID && rec.SecurityID == securityID {
			if !found || rec.Date.After(maxDate) {
				maxDate = rec.Date
				found = true
			}
		}
	}
	return maxDate, found, nil
}

func (s *memSink) Upsert(_ context.Context, rec price.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[fmt.Sprintf("%d|%s", rec.SecurityID, rec.Date.Format("2006-01-02"))]; err != nil {
		return err
	}
	s.rows[sinkKey(rec.VendorID, rec.SecurityID, rec.Date)] = rec
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// --- helpers ---

var testNow = time.Date(2024, 6, 14, 13, 0, 0, 0, time.UTC)

func testToday() time.Time { return truncateToDay(testNow) }

// newTestPipeline wires a pipeline over stubs with a fixed clock and a
// recorded, non-blocking throttler sleep.
func newTestPipeline(catalog *stubCatalog, fetcher *stubFetcher, sink *memSink, opts Options) (*Pipeline, *[]time.Duration) {
	if opts.ShortPause == 0 {
		opts.ShortPause = 10 * time.Second
	}
	if opts.LongPause == 0 {
		opts.LongPause = 120 * time.Second
	}
	p := NewPipeline(catalog, fetcher, sink, opts)
	p.checkpoint.now = func() time.Time { return testNow }

	pauses := &[]time.Duration{}
	p.throttler.sleep = func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	}
	return p, pauses
}

func bar(date time.Time, close float64) price.Bar {
	return price.Bar{Date: date, Open: close, High: close, Low: close, Close: close, AdjClose: close, Volume: 1000}
}

func TestRun_EndToEnd(t *testing.T) {
	today := testToday()
	yesterday := today.AddDate(0, 0, -1)

	catalog := &stubCatalog{securities: []security.Security{
		{ID: 1, Ticker: "AAA"},
		{ID: 2, Ticker: "BBB"},
	}}

	fetcher := newStubFetcher()
	fetcher.bars["AAA"] = []price.Bar{bar(yesterday, 10), bar(today, 11)}
	fetcher.bars["BBB"] = []price.Bar{bar(today, 20)}

	sink := newMemSink()
	sink.seed(price.Record{VendorID: 7, SecurityID: 2, Date: yesterday, Close: 19})

	p, pauses := newTestPipeline(catalog, fetcher, sink, Options{VendorID: 7, ChunkSize: 1})

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// AAA has no history: fetched from the backfill horizon.
	if got, want := fetcher.calls["AAA"], today.AddDate(-2, 0, 0); !got.Equal(want) {
		t.Errorf("AAA fetched from %s, want %s", got.Format("2006-01-02"), want.Format("2006-01-02"))
	}
	// BBB's max is yesterday: fetched from today only.
	if got := fetcher.calls["BBB"]; !got.Equal(today) {
		t.Errorf("BBB fetched from %s, want %s", got.Format("2006-01-02"), today.Format("2006-01-02"))
	}

	for _, id := range []int64{1, 2} {
		maxDate, ok, _ := sink.MaxDate(context.Background(), 7, id)
		if !ok || !maxDate.Equal(today) {
			t.Errorf("security %d: max date = %s (ok=%v), want %s",
				id, maxDate.Format("2006-01-02"), ok, today.Format("2006-01-02"))
		}
	}

	// One pause per chunk, two chunks of size one.
	if len(*pauses) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(*pauses))
	}
	for _, d := range *pauses {
		if d != 10*time.Second {
			t.Errorf("pause = %s, want short pause", d)
		}
	}

	if sum.Ingested != 2 || sum.Records != 3 {
		t.Errorf("summary: ingested=%d records=%d, want 2 and 3", sum.Ingested, sum.Records)
	}
}

func TestRun_FetchErrorDoesNotAbortChunk(t *testing.T) {
	catalog := &stubCatalog{securities: []security.Security{
		{ID: 1, Ticker: "BAD"},
		{ID: 2, Ticker: "GOOD"},
	}}

	fetcher := newStubFetcher()
	fetcher.errs["BAD"] = errors.New("connection reset")
	fetcher.bars["GOOD"] = []price.Bar{bar(testToday(), 42)}

	sink := newMemSink()
	p, _ := newTestPipeline(catalog, fetcher, sink, Options{VendorID: 7, ChunkSize: 10, Workers: 1})

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := fetcher.calls["GOOD"]; !ok {
		t.Fatal("GOOD was never fetched after BAD failed")
	}
	if sink.count() != 1 {
		t.Errorf("expected 1 stored record, got %d", sink.count())
	}
	if len(sum.Failed) != 1 || sum.Failed[0] != "BAD" {
		t.Errorf("summary.Failed = %v, want [BAD]", sum.Failed)
	}
	if sum.Ingested != 1 {
		t.Errorf("summary.Ingested = %d, want 1", sum.Ingested)
	}
}

func TestRun_RecordErrorDoesNotAbortTicker(t *testing.T) {
	today := testToday()
	catalog := &stubCatalog{securities: []security.Security{{ID: 1, Ticker: "AAA"}}}

	fetcher := newStubFetcher()
	fetcher.bars["AAA"] = []price.Bar{
		bar(today.AddDate(0, 0, -2), 1),
		bar(today.AddDate(0, 0, -1), 2),
		bar(today, 3),
	}

	sink := newMemSink()
	sink.upsertErr["1|"+today.AddDate(0, 0, -1).Format("2006-01-02")] = errors.New("constraint violation")

	p, _ := newTestPipeline(catalog, fetcher, sink, Options{VendorID: 7})

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.count() != 2 {
		t.Errorf("expected 2 stored records around the rejected one, got %d", sink.count())
	}
	if sum.Records != 2 {
		t.Errorf("summary.Records = %d, want 2", sum.Records)
	}
}

func TestRun_EmptyResponsesTriggerLongPause(t *testing.T) {
	catalog := &stubCatalog{securities: []security.Security{
		{ID: 1, Ticker: "AAA"},
		{ID: 2, Ticker: "BBB"},
		{ID: 3, Ticker: "CCC"},
	}}

	// No bars configured: every fetch comes back empty.
	fetcher := newStubFetcher()
	sink := newMemSink()

	p, pauses := newTestPipeline(catalog, fetcher, sink, Options{
		VendorID: 7, ChunkSize: 10, EmptyThreshold: 2,
	})

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(*pauses) != 1 {
		t.Fatalf("expected 1 pause, got %d", len(*pauses))
	}
	if (*pauses)[0] != 120*time.Second {
		t.Errorf("pause = %s, want long pause", (*pauses)[0])
	}
	if len(sum.Empty) != 3 {
		t.Errorf("summary.Empty = %v, want 3 tickers", sum.Empty)
	}
}

func TestRun_OnePausePerChunkWithParallelWorkers(t *testing.T) {
	catalog := &stubCatalog{securities: makeSecurities(8)}
	fetcher := newStubFetcher()
	for _, s := range catalog.securities {
		fetcher.bars[s.Ticker] = []price.Bar{bar(testToday(), 1)}
	}
	sink := newMemSink()

	p, pauses := newTestPipeline(catalog, fetcher, sink, Options{
		VendorID: 7, ChunkSize: 4, Workers: 4,
	})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*pauses) != 2 {
		t.Errorf("expected 2 pauses for 2 chunks, got %d", len(*pauses))
	}
}

func TestRun_SkipsAlreadyCurrent(t *testing.T) {
	catalog := &stubCatalog{securities: []security.Security{{ID: 1, Ticker: "AAA"}}}
	fetcher := newStubFetcher()
	sink := newMemSink()
	sink.seed(price.Record{VendorID: 7, SecurityID: 1, Date: testToday(), Close: 5})

	p, _ := newTestPipeline(catalog, fetcher, sink, Options{VendorID: 7})

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("expected no fetches for a current security, got %d", fetcher.callCount())
	}
	if sum.Skipped != 1 {
		t.Errorf("summary.Skipped = %d, want 1", sum.Skipped)
	}
}

func TestRun_DropsBarsBeforeResumePoint(t *testing.T) {
	today := testToday()
	catalog := &stubCatalog{securities: []security.Security{{ID: 1, Ticker: "AAA"}}}

	fetcher := newStubFetcher()
	fetcher.bars["AAA"] = []price.Bar{
		bar(today.AddDate(0, 0, -5), 1), // before the resume point
		bar(today, 2),
	}

	sink := newMemSink()
	sink.seed(price.Record{VendorID: 7, SecurityID: 1, Date: today.AddDate(0, 0, -1), Close: 1})

	p, _ := newTestPipeline(catalog, fetcher, sink, Options{VendorID: 7})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Seeded row plus today's bar only; the stale bar was dropped.
	if sink.count() != 2 {
		t.Errorf("expected 2 rows, got %d", sink.count())
	}
}

func TestRun_CatalogErrorIsFatal(t *testing.T) {
	catalog := &stubCatalog{err: errors.New("catalog unavailable")}
	p, _ := newTestPipeline(catalog, newStubFetcher(), newMemSink(), Options{VendorID: 7})

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error when the catalog is unavailable")
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	catalog := &stubCatalog{securities: makeSecurities(5)}
	fetcher := newStubFetcher()
	p, pauses := newTestPipeline(catalog, fetcher, newMemSink(), Options{VendorID: 7})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if fetcher.callCount() != 0 {
		t.Errorf("expected no fetches after cancellation, got %d", fetcher.callCount())
	}
	if len(*pauses) != 0 {
		t.Errorf("expected no pause after cancellation, got %d", len(*pauses))
	}
}
