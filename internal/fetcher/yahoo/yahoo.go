// Package yahoo implements a price fetcher backed by the Yahoo Finance
// v8 chart API, using cookie + crumb authentication the way the yfinance
// Python library does.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fenlis/stockdb/internal/price"
)

const (
	defaultChartEndpoint = "https://query2.finance.yahoo.com/v8/finance/chart"
	defaultCookieURL     = "https://fc.yahoo.com"
	defaultCrumbURL      = "https://query1.finance.yahoo.com/v1/test/getcrumb"
	dateFormat           = "2006-01-02"
	chunkDays            = 1250
	userAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Fetcher retrieves daily OHLCV bars from Yahoo Finance. It implements
// price.Fetcher: an unknown or delisted ticker yields an empty result,
// not an error.
type Fetcher struct {
	workers       int
	suffix        string
	client        *http.Client
	chartEndpoint string
	cookieURL     string
	crumbURL      string

	mu    sync.Mutex
	crumb string
}

// New creates a Fetcher with the given options applied.
func New(opts ...Option) *Fetcher {
	jar, _ := cookiejar.New(nil)
	f := &Fetcher{
		workers:       5,
		client:        &http.Client{Jar: jar},
		chartEndpoint: defaultChartEndpoint,
		cookieURL:     defaultCookieURL,
		crumbURL:      defaultCrumbURL,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithWorkers sets the concurrency for parallel date-chunk fetching
// within a single ticker.
func WithWorkers(n int) Option {
	return func(f *Fetcher) { f.workers = n }
}

// WithSuffix sets a market suffix appended to every ticker before it is
// sent to Yahoo (e.g. ".KS" for KRX-listed symbols).
func WithSuffix(s string) Option {
	return func(f *Fetcher) { f.suffix = s }
}

// WithClient sets the HTTP client. The client should have a cookie jar.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithChartEndpoint overrides the default chart API endpoint.
func WithChartEndpoint(ep string) Option {
	return func(f *Fetcher) { f.chartEndpoint = ep }
}

// WithCookieURL overrides the URL used to obtain the session cookie.
func WithCookieURL(u string) Option {
	return func(f *Fetcher) { f.cookieURL = u }
}

// WithCrumbURL overrides the URL used to obtain the crumb token.
func WithCrumbURL(u string) Option {
	return func(f *Fetcher) { f.crumbURL = u }
}

// chartResponse represents the Yahoo Finance v8 chart API response.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []any `json:"open"`
					High   []any `json:"high"`
					Low    []any `json:"low"`
					Close  []any `json:"close"`
					Volume []any `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []any `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch returns daily bars for [from, now], ordered by date.
func (f *Fetcher) Fetch(ctx context.Context, ticker string, from time.Time) ([]price.Bar, error) {
	if ticker == "" {
		return nil, fmt.Errorf("ticker cannot be empty")
	}
	if from.IsZero() {
		return nil, fmt.Errorf("start date cannot be empty")
	}
	to := time.Now()
	if from.After(to) {
		return nil, nil
	}

	// Ensure we have a valid crumb before starting parallel fetches.
	if err := f.ensureCrumb(ctx); err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	symbol := ticker + f.suffix
	chunks := dateChunks(from, to, chunkDays)
	results := make([][]price.Bar, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			bars, err := f.fetchChart(ctx, symbol, c.from, c.to)
			if err != nil {
				return fmt.Errorf("fetch %s [%s, %s]: %w", symbol,
					c.from.Format(dateFormat), c.to.Format(dateFormat), err)
			}
			results[i] = bars
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []price.Bar
	for _, bars := range results {
		all = append(all, bars...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })
	return all, nil
}

// ensureCrumb fetches a session cookie and crumb token if not already cached.
func (f *Fetcher) ensureCrumb(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.crumb != "" {
		return nil
	}

	cookieReq, err := http.NewRequestWithContext(ctx, "GET", f.cookieURL, nil)
	if err != nil {
		return fmt.Errorf("build cookie request: %w", err)
	}
	cookieReq.Header.Set("User-Agent", userAgent)

	cookieRes, err := f.client.Do(cookieReq)
	if err != nil {
		return fmt.Errorf("fetch cookie: %w", err)
	}
	_ = cookieRes.Body.Close()

	crumbReq, err := http.NewRequestWithContext(ctx, "GET", f.crumbURL, nil)
	if err != nil {
		return fmt.Errorf("build crumb request: %w", err)
	}
	crumbReq.Header.Set("User-Agent", userAgent)

	crumbRes, err := f.client.Do(crumbReq)
	if err != nil {
		return fmt.Errorf("fetch crumb: %w", err)
	}
	defer func() { _ = crumbRes.Body.Close() }()

	if crumbRes.StatusCode != http.StatusOK {
		return fmt.Errorf("crumb endpoint returned HTTP %d", crumbRes.StatusCode)
	}

	body, err := io.ReadAll(crumbRes.Body)
	if err != nil {
		return fmt.Errorf("read crumb: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return fmt.Errorf("empty crumb received")
	}

	f.crumb = crumb
	slog.Info("yahoo: obtained crumb", "crumb_len", len(crumb))
	return nil
}

// fetchChart fetches chart data for a single date range chunk.
func (f *Fetcher) fetchChart(ctx context.Context, symbol string, from, to time.Time) ([]price.Bar, error) {
	f.mu.Lock()
	crumb := f.crumb
	f.mu.Unlock()

	reqURL := fmt.Sprintf("%s/%s?period1=%s&period2=%s&interval=1d&events=div%%2Csplits&crumb=%s",
		f.chartEndpoint,
		symbol,
		strconv.FormatInt(from.Unix(), 10),
		strconv.FormatInt(to.Unix(), 10),
		crumb,
	)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	// Yahoo answers 404 for symbols it does not know (delisted or plain
	// wrong). That is a valid empty result, not a transport failure.
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		// Invalidate crumb on auth errors so the next Fetch retries auth.
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			f.mu.Lock()
			f.crumb = ""
			f.mu.Unlock()
		}
		return nil, fmt.Errorf("yahoo returned HTTP %d for %s", res.StatusCode, symbol)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo response: %w", err)
	}

	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo chart error: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}

	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	var adjCloses []any
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]price.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal, ok := toFloat64(at(quote.Close, i))
		if !ok {
			// Yahoo uses null for non-trading sessions; skip the bar.
			continue
		}
		bar := price.Bar{
			Date:     time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Close:    closeVal,
			AdjClose: closeVal,
		}
		bar.Open, _ = toFloat64(at(quote.Open, i))
		bar.High, _ = toFloat64(at(quote.High, i))
		bar.Low, _ = toFloat64(at(quote.Low, i))
		if v, ok := toFloat64(at(quote.Volume, i)); ok {
			bar.Volume = int64(v)
		}
		if v, ok := toFloat64(at(adjCloses, i)); ok {
			bar.AdjClose = v
		}
		bars = append(bars, bar)
	}

	slog.Info("retrieved yahoo data", "symbol", symbol,
		"from", from.Format(dateFormat), "to", to.Format(dateFormat),
		"count", len(bars))

	return bars, nil
}

func at(values []any, i int) any {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}

// toFloat64 converts a JSON number (which may be float64 or json.Number)
// to float64. Returns false for nil values.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case json.Number:
		n, err := val.Float64()
		return n, err == nil
	default:
		return 0, false
	}
}

type dateRange struct {
	from time.Time
	to   time.Time
}

// dateChunks splits [from, to] into ranges of at most chunkDays days so a
// multi-year backfill is fetched as several smaller chart requests.
func dateChunks(from, to time.Time, days int) []dateRange {
	var chunks []dateRange
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 0, days) {
		end := cur.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, dateRange{from: cur, to: end})
	}
	return chunks
}
