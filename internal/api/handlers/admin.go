package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/services"
)

const defaultGapFillDays = 30

// AdminHandler exposes the operational surface: on-demand gap fills,
// pause/resume, and scheduler status.
type AdminHandler struct {
	scheduler *services.CollectionScheduler
	cfg       config.CollectionConfig
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(scheduler *services.CollectionScheduler, cfg config.CollectionConfig) *AdminHandler {
	return &AdminHandler{scheduler: scheduler, cfg: cfg}
}

// GapFillRequest triggers a sweep for one series.
type GapFillRequest struct {
	Exchange  string `json:"exchange" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe" binding:"required"`
	Days      int    `json:"days"`
}

// TriggerGapFill handles POST /api/v1/admin/gap-fill. The sweep runs in
// the background; only validation is synchronous.
func (h *AdminHandler) TriggerGapFill(c *gin.Context) {
	var req GapFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Days == 0 {
		req.Days = defaultGapFillDays
	}

	if err := h.scheduler.TriggerGapFill(req.Exchange, req.Symbol, req.Timeframe, req.Days); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, services.ErrUnknownExchange) &&
			!errors.Is(err, services.ErrInvalidTimeframe) &&
			!errors.Is(err, services.ErrInvalidLookback) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"exchange":  req.Exchange,
		"symbol":    req.Symbol,
		"timeframe": req.Timeframe,
		"days":      req.Days,
	})
}

// BatchGapFillRequest sweeps many configured series at once. Empty
// filters mean all configured exchanges or timeframes.
type BatchGapFillRequest struct {
	Days       int      `json:"days"`
	Exchanges  []string `json:"exchanges"`
	Timeframes []string `json:"timeframes"`
}

// TriggerGapFillBatch handles POST /api/v1/admin/gap-fill/batch.
func (h *AdminHandler) TriggerGapFillBatch(c *gin.Context) {
	var req BatchGapFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Days == 0 {
		req.Days = defaultGapFillDays
	}

	wantExchange := toSet(req.Exchanges)
	wantTimeframe := toSet(req.Timeframes)

	tasks := 0
	for _, ex := range h.cfg.Exchanges {
		if len(wantExchange) > 0 {
			if _, ok := wantExchange[ex.ID]; !ok {
				continue
			}
		}
		for _, symbol := range ex.Symbols {
			for _, timeframe := range h.cfg.Timeframes {
				if len(wantTimeframe) > 0 {
					if _, ok := wantTimeframe[timeframe]; !ok {
						continue
					}
				}
				if err := h.scheduler.TriggerGapFill(ex.ID, symbol, timeframe, req.Days); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				tasks++
			}
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "tasks": tasks})
}

// PauseExchange handles POST /api/v1/admin/pause/:exchange.
func (h *AdminHandler) PauseExchange(c *gin.Context) {
	exchangeID := c.Param("exchange")

	seconds := 60
	if raw := c.Query("seconds"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be a positive integer"})
			return
		}
		seconds = v
	}

	if err := h.scheduler.Pause(exchangeID, time.Duration(seconds)*time.Second); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "exchange": exchangeID, "seconds": seconds})
}

// ResumeExchange handles POST /api/v1/admin/resume/:exchange.
func (h *AdminHandler) ResumeExchange(c *gin.Context) {
	exchangeID := c.Param("exchange")
	if err := h.scheduler.Resume(exchangeID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed", "exchange": exchangeID})
}

// Status handles GET /api/v1/admin/status.
func (h *AdminHandler) Status(c *gin.Context) {
	paused := make(map[string]string)
	for exchangeID, until := range h.scheduler.PausedExchanges() {
		paused[exchangeID] = until.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.JobCount(),
		"paused":  paused,
	})
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
