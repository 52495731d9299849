package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

// recentFetchLimit is how many trailing candles each collection tick
// requests. Overlap with already-stored candles is fine because the
// store upsert is idempotent.
const recentFetchLimit = 10

// CollectionScheduler runs the background workers: periodic candle
// collection per (exchange, symbol, timeframe), ticker refresh per
// (exchange, symbol), and a startup gap-fill sweep. One goroutine per
// job, all stopped together through the scheduler context.
type CollectionScheduler struct {
	cfg            config.CollectionConfig
	clients        map[string]exchange.Client
	market         *MarketDataService
	gapfill        *GapFillService
	pauses         *PauseRegistry
	tickerInterval time.Duration
	logger         *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	jobs    int
}

// NewCollectionScheduler builds the scheduler from validated config.
func NewCollectionScheduler(cfg config.CollectionConfig, clients map[string]exchange.Client, market *MarketDataService, gapfill *GapFillService, pauses *PauseRegistry) (*CollectionScheduler, error) {
	tickerInterval, err := time.ParseDuration(cfg.TickerInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid ticker interval: %w", err)
	}

	return &CollectionScheduler{
		cfg:            cfg,
		clients:        clients,
		market:         market,
		gapfill:        gapfill,
		pauses:         pauses,
		tickerInterval: tickerInterval,
		logger:         logrus.WithField("component", "scheduler"),
	}, nil
}

// Start launches all collection workers and, when enabled, the startup
// gap-fill sweep.
func (s *CollectionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.jobs = 0

	for _, ex := range s.cfg.Exchanges {
		if _, ok := s.clients[ex.ID]; !ok {
			s.logger.WithField("exchange", ex.ID).Warn("No client for configured exchange, skipping")
			continue
		}
		for _, symbol := range ex.Symbols {
			for _, timeframe := range s.cfg.Timeframes {
				s.spawnCandleWorker(ex.ID, symbol, timeframe)
				if s.cfg.GapFillEnabled {
					s.spawnGapFill(ex.ID, symbol, timeframe, s.cfg.GapFillDays)
				}
			}
			s.spawnTickerWorker(ex.ID, symbol)
		}
	}

	s.logger.WithField("jobs", s.jobs).Info("Collection scheduler started")
	return nil
}

// Stop cancels all workers and waits for them to drain.
func (s *CollectionScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Collection scheduler stopped")
}

// IsRunning reports whether workers are active.
func (s *CollectionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// JobCount returns the number of periodic workers launched by Start.
func (s *CollectionScheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

// TriggerGapFill launches an on-demand gap-fill sweep for one series.
// The sweep runs in the background; validation failures are returned
// synchronously.
func (s *CollectionScheduler) TriggerGapFill(exchangeID, symbol, timeframe string, days int) error {
	if _, ok := s.clients[exchangeID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchangeID)
	}
	if !models.ValidTimeframe(timeframe) {
		return ErrInvalidTimeframe
	}
	if days < 1 || days > MaxLookbackDays {
		return ErrInvalidLookback
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("scheduler not running")
	}
	s.spawnGapFill(exchangeID, symbol, timeframe, days)
	return nil
}

// Pause defers all collection and repair for an exchange.
func (s *CollectionScheduler) Pause(exchangeID string, d time.Duration) error {
	if _, ok := s.clients[exchangeID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchangeID)
	}
	s.pauses.Pause(exchangeID, d)
	return nil
}

// Resume lifts a pause immediately.
func (s *CollectionScheduler) Resume(exchangeID string) error {
	if _, ok := s.clients[exchangeID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchangeID)
	}
	s.pauses.Resume(exchangeID)
	return nil
}

// PausedExchanges returns the currently paused exchanges with their
// resume deadlines.
func (s *CollectionScheduler) PausedExchanges() map[string]time.Time {
	return s.pauses.Paused()
}

func (s *CollectionScheduler) spawnCandleWorker(exchangeID, symbol, timeframe string) {
	tfMs, ok := models.TimeframeMs(timeframe)
	if !ok {
		s.logger.WithField("timeframe", timeframe).Warn("Skipping worker for unsupported timeframe")
		return
	}
	interval := time.Duration(tfMs) * time.Millisecond
	s.jobs++

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.collectCandles(exchangeID, symbol, timeframe)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.collectCandles(exchangeID, symbol, timeframe)
			}
		}
	}()
}

func (s *CollectionScheduler) spawnTickerWorker(exchangeID, symbol string) {
	s.jobs++

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.collectTicker(exchangeID, symbol)

		ticker := time.NewTicker(s.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.collectTicker(exchangeID, symbol)
			}
		}
	}()
}

func (s *CollectionScheduler) spawnGapFill(exchangeID, symbol, timeframe string, days int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("panic", r).Error("Gap fill sweep panicked")
			}
		}()

		filled, err := s.gapfill.FillGaps(s.ctx, exchangeID, symbol, timeframe, days)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"exchange":  exchangeID,
				"symbol":    symbol,
				"timeframe": timeframe,
			}).Error("Gap fill sweep failed")
			return
		}
		if filled > 0 {
			s.logger.WithFields(logrus.Fields{
				"exchange":  exchangeID,
				"symbol":    symbol,
				"timeframe": timeframe,
				"filled":    filled,
			}).Info("Gap fill sweep completed")
		}
	}()
}

func (s *CollectionScheduler) collectCandles(exchangeID, symbol, timeframe string) {
	if s.pauses.IsPaused(exchangeID) {
		return
	}

	client := s.clients[exchangeID]
	candles, err := client.FetchOHLCV(s.ctx, symbol, timeframe, 0, recentFetchLimit)
	if err != nil {
		s.handleCollectError(err, exchangeID, symbol, timeframe)
		return
	}
	if len(candles) == 0 {
		return
	}

	if _, err := s.market.SaveCandles(s.ctx, candles); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"exchange":  exchangeID,
			"symbol":    symbol,
			"timeframe": timeframe,
		}).Error("Failed to save collected candles")
	}
}

func (s *CollectionScheduler) collectTicker(exchangeID, symbol string) {
	if s.pauses.IsPaused(exchangeID) {
		return
	}

	if _, err := s.market.RefreshTicker(s.ctx, exchangeID, symbol); err != nil {
		s.handleCollectError(err, exchangeID, symbol, "")
	}
}

func (s *CollectionScheduler) handleCollectError(err error, exchangeID, symbol, timeframe string) {
	if s.ctx.Err() != nil {
		return
	}

	var rateErr *exchange.RateLimitError
	if errors.As(err, &rateErr) {
		s.pauses.Pause(exchangeID, rateErr.RetryAfter)
		s.logger.WithFields(logrus.Fields{
			"exchange":    exchangeID,
			"retry_after": rateErr.RetryAfter,
		}).Warn("Rate limited during collection, pausing exchange")
		return
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"exchange":  exchangeID,
		"symbol":    symbol,
		"timeframe": timeframe,
	}).Error("Collection failed")
}
