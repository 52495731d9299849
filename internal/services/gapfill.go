package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

const (
	// MaxLookbackDays bounds the detection window.
	MaxLookbackDays = 365

	dayMs = int64(24 * 60 * 60 * 1000)

	// defaultBatchSize is the largest candle batch requested per fetch,
	// matching the common exchange per-request cap.
	defaultBatchSize = 1000
)

var (
	ErrInvalidLookback  = errors.New("lookback days must be between 1 and 365")
	ErrInvalidTimeframe = errors.New("unsupported timeframe")
	ErrUnknownExchange  = errors.New("unknown exchange")
)

// CandleStore is the durable-store capability the gap-fill and market
// data paths depend on. *database.CandleRepository satisfies it; tests
// substitute an in-memory implementation.
type CandleStore interface {
	Upsert(ctx context.Context, candles []models.Candle) (int, error)
	Timestamps(ctx context.Context, exchange, symbol, timeframe string, since int64) ([]int64, error)
	Find(ctx context.Context, q database.FindQuery) ([]models.Candle, *int64, error)
}

// CandleCacher is the recency-cache capability, satisfied by
// *cache.CandleCache.
type CandleCacher interface {
	Put(ctx context.Context, candles []models.Candle) error
	Get(ctx context.Context, exchange, symbol, timeframe string, start, end *int64, limit int) ([]models.Candle, error)
}

// GapRange is a maximal run of consecutive missing periods, bounds
// inclusive and aligned to the timeframe.
type GapRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Periods returns the number of missing candles in the range.
func (g GapRange) Periods(tfMs int64) int {
	return int((g.End-g.Start)/tfMs) + 1
}

// GapReport summarizes a detection pass over one series.
type GapReport struct {
	Ranges      []GapRange `json:"ranges"`
	Expected    int        `json:"expected"`
	Missing     int        `json:"missing"`
	CoveragePct float64    `json:"coverage_pct"`
}

// GapFillService detects and repairs holes in stored candle history.
// Repair writes through the durable store first and the cache second,
// so a crash between batches loses no committed progress; the next
// detection pass simply finds a smaller gap.
type GapFillService struct {
	store      CandleStore
	cache      CandleCacher
	clients    map[string]exchange.Client
	pauses     *PauseRegistry
	batchSize  int
	batchDelay time.Duration
	logger     *logrus.Entry
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGapFillService wires the gap-fill pipeline. batchDelay is the
// fixed sleep between consecutive fetch batches.
func NewGapFillService(store CandleStore, cache CandleCacher, clients map[string]exchange.Client, pauses *PauseRegistry, batchDelay time.Duration) *GapFillService {
	return &GapFillService{
		store:      store,
		cache:      cache,
		clients:    clients,
		pauses:     pauses,
		batchSize:  defaultBatchSize,
		batchDelay: batchDelay,
		logger:     logrus.WithField("component", "gapfill"),
		now:        time.Now,
		inflight:   make(map[string]struct{}),
	}
}

// Detect compares the expected candle schedule against stored
// timestamps and returns the missing periods merged into maximal
// contiguous ranges. The window runs from the aligned start of the
// lookback period through the current (possibly still-open) period.
func (s *GapFillService) Detect(ctx context.Context, exchangeID, symbol, timeframe string, lookbackDays int) (GapReport, error) {
	if lookbackDays < 1 || lookbackDays > MaxLookbackDays {
		return GapReport{}, ErrInvalidLookback
	}
	tfMs, ok := models.TimeframeMs(timeframe)
	if !ok {
		return GapReport{}, ErrInvalidTimeframe
	}

	nowMs := s.now().UnixMilli()
	start := models.AlignTimestamp(nowMs-int64(lookbackDays)*dayMs, tfMs)

	stored, err := s.store.Timestamps(ctx, exchangeID, symbol, timeframe, start)
	if err != nil {
		return GapReport{}, fmt.Errorf("failed to load stored timestamps: %w", err)
	}
	have := make(map[int64]struct{}, len(stored))
	for _, ts := range stored {
		have[ts] = struct{}{}
	}

	var report GapReport
	prevMissing := int64(-1)
	for ts := start; ts <= nowMs; ts += tfMs {
		report.Expected++
		if _, ok := have[ts]; ok {
			continue
		}
		report.Missing++
		if prevMissing == ts-tfMs {
			report.Ranges[len(report.Ranges)-1].End = ts
		} else {
			report.Ranges = append(report.Ranges, GapRange{Start: ts, End: ts})
		}
		prevMissing = ts
	}

	report.CoveragePct = float64(report.Expected-report.Missing) / float64(report.Expected) * 100
	return report, nil
}

// Repair fetches and commits the given gap ranges in order. Each batch
// is upserted and cached before the cursor advances, so partial repairs
// are durable. A rate-limit fault pauses the whole exchange and stops
// the remaining work; any other exchange fault abandons the current
// range only. The returned count is candles committed.
func (s *GapFillService) Repair(ctx context.Context, exchangeID, symbol, timeframe string, ranges []GapRange) (int, error) {
	client, ok := s.clients[exchangeID]
	if !ok {
		return 0, ErrUnknownExchange
	}
	tfMs, ok := models.TimeframeMs(timeframe)
	if !ok {
		return 0, ErrInvalidTimeframe
	}

	log := s.logger.WithFields(logrus.Fields{
		"exchange":  exchangeID,
		"symbol":    symbol,
		"timeframe": timeframe,
	})

	total := 0
	for _, r := range ranges {
		if s.pauses.IsPaused(exchangeID) {
			log.Debug("Exchange paused, deferring remaining gap ranges")
			return total, nil
		}

		filled, err := s.repairRange(ctx, client, symbol, timeframe, tfMs, r)
		total += filled
		if err == nil {
			continue
		}

		var rateErr *exchange.RateLimitError
		if errors.As(err, &rateErr) {
			s.pauses.Pause(exchangeID, rateErr.RetryAfter)
			log.WithField("retry_after", rateErr.RetryAfter).Warn("Rate limited during gap repair, pausing exchange")
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		log.WithError(err).WithFields(logrus.Fields{
			"range_start": r.Start,
			"range_end":   r.End,
		}).Error("Gap range repair failed, continuing with next range")
	}
	return total, nil
}

func (s *GapFillService) repairRange(ctx context.Context, client exchange.Client, symbol, timeframe string, tfMs int64, r GapRange) (int, error) {
	filled := 0
	cursor := r.Start
	for cursor <= r.End {
		remaining := int((r.End-cursor)/tfMs) + 1
		limit := s.batchSize
		if remaining < limit {
			limit = remaining
		}

		candles, err := client.FetchOHLCV(ctx, symbol, timeframe, cursor, limit)
		if err != nil {
			return filled, err
		}
		if len(candles) == 0 {
			// The exchange has no data here, likely before listing.
			s.logger.WithFields(logrus.Fields{
				"symbol":    symbol,
				"timeframe": timeframe,
				"cursor":    cursor,
			}).Debug("No candles returned for gap range, stopping range")
			return filled, nil
		}

		if _, err := s.store.Upsert(ctx, candles); err != nil {
			return filled, fmt.Errorf("failed to store gap batch: %w", err)
		}
		if err := s.cache.Put(ctx, candles); err != nil {
			// The store is the source of truth; a cache write failure
			// only delays freshness.
			s.logger.WithError(err).Warn("Failed to cache repaired candles")
		}

		filled += len(candles)
		cursor = candles[len(candles)-1].Timestamp + tfMs
		if len(candles) < limit {
			return filled, nil
		}

		if s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return filled, ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}
	return filled, nil
}

// FillGaps runs one detect-then-repair cycle for a series. Concurrent
// calls for the same (exchange, symbol, timeframe) collapse: later
// callers return immediately while the first still runs. A paused
// exchange also short-circuits to a no-op.
func (s *GapFillService) FillGaps(ctx context.Context, exchangeID, symbol, timeframe string, lookbackDays int) (int, error) {
	key := exchangeID + ":" + symbol + ":" + timeframe
	if !s.acquire(key) {
		s.logger.WithField("key", key).Debug("Gap fill already in flight, skipping")
		return 0, nil
	}
	defer s.release(key)

	if s.pauses.IsPaused(exchangeID) {
		return 0, nil
	}

	report, err := s.Detect(ctx, exchangeID, symbol, timeframe, lookbackDays)
	if err != nil {
		return 0, err
	}
	if len(report.Ranges) == 0 {
		return 0, nil
	}

	s.logger.WithFields(logrus.Fields{
		"exchange":     exchangeID,
		"symbol":       symbol,
		"timeframe":    timeframe,
		"ranges":       len(report.Ranges),
		"missing":      report.Missing,
		"coverage_pct": fmt.Sprintf("%.2f", report.CoveragePct),
	}).Info("Detected candle gaps, starting repair")

	return s.Repair(ctx, exchangeID, symbol, timeframe, report.Ranges)
}

func (s *GapFillService) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *GapFillService) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
