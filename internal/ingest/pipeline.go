package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fenlis/stockdb/internal/price"
	"github.com/fenlis/stockdb/internal/security"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultChunkSize      = 100
	DefaultWorkers        = 5
	DefaultShortPause     = 10 * time.Second
	DefaultLongPause      = 120 * time.Second
	DefaultEmptyThreshold = 40
	DefaultBackfillYears  = 2
)

// Options configures a run of the ingestion pipeline.
type Options struct {
	VendorID       int64
	Sector         string // optional sector filter; empty means all
	ChunkSize      int
	Workers        int // max in-flight fetches within a chunk
	ShortPause     time.Duration
	LongPause      time.Duration
	EmptyThreshold int
	BackfillYears  int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ShortPause <= 0 {
		o.ShortPause = DefaultShortPause
	}
	if o.LongPause <= 0 {
		o.LongPause = DefaultLongPause
	}
	if o.EmptyThreshold <= 0 {
		o.EmptyThreshold = DefaultEmptyThreshold
	}
	if o.BackfillYears <= 0 {
		o.BackfillYears = DefaultBackfillYears
	}
	return o
}

// Summary reports the outcome of one pipeline run.
type Summary struct {
	RunID      string
	Started    time.Time
	Duration   time.Duration
	Securities int
	Chunks     int
	Ingested   int   // tickers for which at least one fetch result came back
	Records    int64 // rows written to the sink
	Skipped    int   // tickers already current
	Empty      []string
	Failed     []string
}

// Pipeline drives the incremental ingestion: the catalog supplies the
// ticker universe, the checkpointer resolves each security's resume
// point, the fetcher streams bars, the sink persists them, and the
// throttler paces chunk boundaries.
type Pipeline struct {
	catalog    security.Catalog
	fetcher    price.Fetcher
	sink       price.Sink
	checkpoint *Checkpointer
	throttler  *Throttler
	opts       Options
}

func NewPipeline(catalog security.Catalog, fetcher price.Fetcher, sink price.Sink, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		catalog:    catalog,
		fetcher:    fetcher,
		sink:       sink,
		checkpoint: NewCheckpointer(sink, opts.VendorID, opts.BackfillYears),
		throttler:  NewThrottler(opts.ShortPause, opts.LongPause, opts.EmptyThreshold),
		opts:       opts,
	}
}

type outcome int

const (
	outcomeIngested outcome = iota
	outcomeEmpty
	outcomeFailed
	outcomeSkipped
	outcomeCancelled
)

type tickerResult struct {
	ticker  string
	outcome outcome
	records int64
}

// Run executes one full ingestion pass over the catalog. A catalog
// failure is fatal; every per-ticker and per-record failure is logged,
// recorded in the summary, and skipped. Cancelling ctx stops new fetches
// from being issued, lets in-flight tickers finish their writes, and
// returns the partial summary with ctx's error.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}

	securities, err := p.catalog.List(ctx, p.opts.Sector)
	if err != nil {
		return nil, fmt.Errorf("list securities: %w", err)
	}
	sum.Securities = len(securities)

	chunks := Chunks(securities, p.opts.ChunkSize)
	sum.Chunks = len(chunks)

	slog.Info("ingestion run started",
		"run", sum.RunID, "vendor", p.opts.VendorID,
		"securities", len(securities), "chunks", len(chunks),
		"chunkSize", p.opts.ChunkSize, "workers", p.opts.Workers)

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		results := p.runChunk(ctx, chunk)

		// The empty-response count is aggregated here, by the chunk
		// coordinator, after all workers have finished. Workers never
		// touch shared counters.
		emptyCount := 0
		for _, r := range results {
			switch r.outcome {
			case outcomeIngested:
				sum.Ingested++
				sum.Records += r.records
			case outcomeEmpty:
				emptyCount++
				sum.Empty = append(sum.Empty, r.ticker)
			case outcomeFailed:
				sum.Failed = append(sum.Failed, r.ticker)
			case outcomeSkipped:
				sum.Skipped++
			case outcomeCancelled:
				// not counted; the next run's checkpointer picks it up
			}
		}

		slog.Info("chunk complete",
			"run", sum.RunID, "chunk", i+1, "of", len(chunks),
			"tickers", len(chunk), "empty", emptyCount)

		if ctx.Err() != nil {
			break
		}
		if err := p.throttler.Pace(ctx, emptyCount); err != nil {
			break
		}
	}

	sum.Duration = time.Since(sum.Started)
	slog.Info("ingestion run finished",
		"run", sum.RunID, "duration", sum.Duration,
		"ingested", sum.Ingested, "records", sum.Records,
		"skipped", sum.Skipped, "empty", len(sum.Empty), "failed", len(sum.Failed))
	if len(sum.Empty) > 0 {
		slog.Info("tickers with no data", "run", sum.RunID, "tickers", sum.Empty)
	}
	if len(sum.Failed) > 0 {
		slog.Warn("tickers with failed fetches", "run", sum.RunID, "tickers", sum.Failed)
	}

	return sum, ctx.Err()
}

// runChunk processes every ticker in the chunk with a bounded number of
// concurrent fetches. Each ticker commits independently, so one ticker's
// failure never rolls back another's rows.
func (p *Pipeline) runChunk(ctx context.Context, chunk []security.Security) []tickerResult {
	results := make([]tickerResult, len(chunk))

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	for i, sec := range chunk {
		i, sec := i, sec
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = tickerResult{ticker: sec.Ticker, outcome: outcomeCancelled}
				return nil
			}
			results[i] = p.ingestOne(ctx, sec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) ingestOne(ctx context.Context, sec security.Security) tickerResult {
	res := tickerResult{ticker: sec.Ticker}

	start, skip, err := p.checkpoint.ResolveStart(ctx, sec.ID)
	if err != nil {
		slog.Error("resolve start date", "ticker", sec.Ticker, "error", err)
		res.outcome = outcomeFailed
		return res
	}
	if skip {
		slog.Debug("already current", "ticker", sec.Ticker)
		res.outcome = outcomeSkipped
		return res
	}

	bars, err := p.fetcher.Fetch(ctx, sec.Ticker, start)
	if err != nil {
		slog.Error("fetch", "ticker", sec.Ticker, "from", start.Format("2006-01-02"), "error", err)
		res.outcome = outcomeFailed
		return res
	}
	if len(bars) == 0 {
		res.outcome = outcomeEmpty
		return res
	}

	for _, bar := range bars {
		// Providers occasionally return bars before the requested start;
		// dropping them keeps this run's writes contiguous with the
		// prior stored maximum.
		if bar.Date.Before(start) {
			continue
		}
		rec := price.Record{
			VendorID:   p.opts.VendorID,
			SecurityID: sec.ID,
			Date:       bar.Date,
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			AdjClose:   bar.AdjClose,
			Volume:     bar.Volume,
		}
		if err := p.sink.Upsert(ctx, rec); err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("upsert price", "ticker", sec.Ticker,
				"date", bar.Date.Format("2006-01-02"), "error", err)
			continue
		}
		res.records++
	}

	slog.Info("ingested", "ticker", sec.Ticker,
		"from", start.Format("2006-01-02"), "records", res.records)
	res.outcome = outcomeIngested
	return res
}
