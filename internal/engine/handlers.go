package engine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veilpay/riskengine/internal/audit"
	"github.com/veilpay/riskengine/internal/feature"
)

// Handler provides HTTP endpoints for the scoring pipeline
type Handler struct {
	svc    *Service
	sink   audit.Sink
	logger *slog.Logger
}

// NewHandler creates a new scoring handler
func NewHandler(svc *Service, sink audit.Sink, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, sink: sink, logger: logger}
}

// RegisterRoutes sets up scoring routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/score", h.ScoreTransaction)
	r.GET("/decisions", h.ListDecisions)
}

// ScoreTransaction handles POST /v1/score
func (h *Handler) ScoreTransaction(c *gin.Context) {
	var tx feature.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}

	res, err := h.svc.Score(c.Request.Context(), &tx)
	if err != nil {
		var ve *feature.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": ve.Field, "message": ve.Message})
			return
		}
		h.logger.Error("scoring failed", "transaction_id", tx.TransactionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring_failed", "message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, res)
}

// ListDecisions handles GET /v1/decisions — the recent anonymized audit
// trail, newest first.
func (h *Handler) ListDecisions(c *gin.Context) {
	limit := 50
	if v, ok := c.GetQuery("limit"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 500 {
			limit = n
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be an integer in [1, 500]"})
			return
		}
	}

	events, err := h.sink.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list decisions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "internal error"})
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": events, "count": len(events)})
}
