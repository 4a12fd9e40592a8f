package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 100

// Handler serves the read-only decision query surface.
type Handler struct {
	store Store
}

// NewHandler creates a query handler over the given store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up the decision query endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/decisions/transaction/:id", h.GetByTransaction)
	r.GET("/decisions/user/:userId", h.ListByUser)
	r.GET("/decisions/stats", h.GetStats)
}

// GetByTransaction returns the decision for a transaction id.
func (h *Handler) GetByTransaction(c *gin.Context) {
	d, err := h.store.GetByTransactionID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "decision_not_found",
			"message": "No decision recorded for this transaction",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to look up decision",
		})
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListByUser returns a user's decision history, most recent first.
func (h *Handler) ListByUser(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	decisions, err := h.store.ListByUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to list decisions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    c.Param("userId"),
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetStats returns aggregate decision stats over the trailing hour.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), time.Now().Add(-time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to aggregate stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
