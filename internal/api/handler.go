package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnayoung/go-trade-backfill/internal/collector"
	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/export"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// HealthCheck handles GET /health requests
func (h *APIHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	status, code := "OK", http.StatusOK
	body := gin.H{
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	}
	if err := h.service.Health(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		body["error"] = err.Error()
		h.logger.Warn("health check failed", "error", err)
	}
	body["status"] = status
	c.JSON(code, body)
}

// GetMetrics handles GET /metrics requests
func (h *APIHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

// GetPairs handles GET /pairs requests
func (h *APIHandler) GetPairs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	pairs, err := h.service.Pairs(ctx)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs, "count": len(pairs)})
}

// GetLocalPairs handles GET /pairs/local requests
func (h *APIHandler) GetLocalPairs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	pairs, err := h.service.LocalPairs(ctx)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs, "count": len(pairs)})
}

// GetTrades handles GET /trades/:pair requests
func (h *APIHandler) GetTrades(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	pair, err := h.validator.ValidatePair(c.Param("pair"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	start, end, err := h.validator.ValidateRange(c.Query("start"), c.Query("end"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	limit, err := h.validator.ValidateLimit(c.Query("limit"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	trades, err := h.service.Trades(ctx, pair, start, end)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	total := len(trades)
	if limit > 0 && total > limit {
		trades = trades[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"pair":   pair,
		"start":  start,
		"end":    end,
		"total":  total,
		"trades": trades,
	})
}

// GetCharts handles GET /charts/:pair requests
func (h *APIHandler) GetCharts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	pair, start, end, interval, err := h.validator.ValidateChartsRequest(
		c.Param("pair"), c.Query("start"), c.Query("end"), c.DefaultQuery("interval", DefaultInterval))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	candles, err := h.service.Charts(ctx, pair, start, end, interval)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pair":     pair,
		"interval": interval.String(),
		"candles":  candles,
	})
}

// CreateDownload handles POST /downloads requests. The download runs in
// the background; the response carries its id.
func (h *APIHandler) CreateDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err)
		return
	}
	pair, start, end, err := h.validator.ValidateDownloadRequest(req)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	d, err := h.service.StartDownload(h.baseCtx, pair, start, end)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Header("Location", "/downloads/"+d.ID)
	c.JSON(http.StatusAccepted, d)
}

// ListDownloads handles GET /downloads requests
func (h *APIHandler) ListDownloads(c *gin.Context) {
	runs := h.service.Downloads()
	c.JSON(http.StatusOK, gin.H{"downloads": runs, "count": len(runs)})
}

// GetDownload handles GET /downloads/:id requests
func (h *APIHandler) GetDownload(c *gin.Context) {
	d, ok := h.service.GetDownload(c.Param("id"))
	if !ok {
		h.handleError(c, errors.New("download not found"), http.StatusNotFound, "download not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"download": d,
		"progress": d.Progress(),
		"summary":  d.Summary(),
	})
}

// CreateExport handles POST /exports requests
func (h *APIHandler) CreateExport(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err)
		return
	}
	pair, start, end, interval, err := h.validator.ValidateExportRequest(req)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	var res *export.Result
	if interval > 0 {
		res, err = h.exporter.ExportCandles(ctx, pair, start, end, interval)
	} else {
		res, err = h.exporter.ExportTrades(ctx, pair, start, end)
	}
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// handleServiceError maps service errors to HTTP statuses.
func (h *APIHandler) handleServiceError(c *gin.Context, err error) {
	var validation *models.ValidationError
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest), errors.As(err, &validation):
		h.handleError(c, err, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNoDataForPair):
		h.handleError(c, err, http.StatusNotFound, err.Error())
	case errors.Is(err, collector.ErrDownloadInProgress):
		h.handleError(c, err, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrRetryExhausted):
		h.handleError(c, err, http.StatusBadGateway, "Exchange unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		h.handleError(c, err, http.StatusGatewayTimeout, "Request timed out")
	default:
		h.handleError(c, err, http.StatusInternalServerError, "Internal server error")
	}
}

// handleError logs the error and sends appropriate HTTP response
func (h *APIHandler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID, exists := c.Get(RequestIDContextKey)
	requestIDStr := "unknown"
	if exists {
		if id, ok := requestID.(string); ok {
			requestIDStr = id
		}
	}

	h.logger.Error("API error",
		slog.String("request_id", requestIDStr),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status_code", statusCode),
	)

	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestIDStr,
	})
}

// handleValidationError handles validation errors specifically
func (h *APIHandler) handleValidationError(c *gin.Context, err error) {
	h.handleError(c, err, http.StatusBadRequest, err.Error())
}
