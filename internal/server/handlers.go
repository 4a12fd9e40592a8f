package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/idgen"
	"github.com/txscreen/txscreen/internal/ingest"
	"github.com/txscreen/txscreen/internal/logging"
	"github.com/txscreen/txscreen/internal/validation"
)

// bindTransaction parses and validates a transaction body. A nil return
// means the response has already been written.
func bindTransaction(c *gin.Context) *decision.Transaction {
	var txn decision.Transaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil
	}

	if errs := validation.Validate(
		validation.Required("transactionId", txn.TransactionID),
		validation.ValidID("transactionId", txn.TransactionID),
		validation.Required("userId", txn.UserID),
		validation.ValidID("userId", txn.UserID),
		validation.Required("merchant", txn.Merchant),
		validation.Required("deviceId", txn.DeviceID),
		validation.ValidCurrency("currency", txn.Currency),
		validation.PositiveAmount("amount", txn.Amount),
		validation.MaxLength("location", txn.Location, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"fields":  errs,
		})
		return nil
	}

	if txn.Timestamp.IsZero() {
		txn.Timestamp = time.Now().UTC()
	}
	return &txn
}

// evaluateHandler handles POST /api/v1/decisions/evaluate
func (s *Server) evaluateHandler(c *gin.Context) {
	txn := bindTransaction(c)
	if txn == nil {
		return
	}

	d, err := s.engine.Evaluate(c.Request.Context(), txn)
	if err != nil {
		var evalErr *decision.EvaluationError
		if errors.As(err, &evalErr) {
			logging.L(c.Request.Context()).Error("evaluation failed",
				"transaction_id", evalErr.TransactionID,
				"stage", evalErr.Stage,
				"error", evalErr.Err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "evaluation_failed",
			"message": "Failed to evaluate transaction",
		})
		return
	}

	c.JSON(http.StatusOK, d)
}

// submitHandler handles POST /api/v1/transactions. The transaction is
// queued for the worker pool; the decision is retrievable from the query
// API or the live feed once made.
func (s *Server) submitHandler(c *gin.Context) {
	txn := bindTransaction(c)
	if txn == nil {
		return
	}

	body, err := json.Marshal(txn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to encode transaction",
		})
		return
	}

	deliveryID := idgen.WithPrefix("msg_")
	if err := s.source.Submit(c.Request.Context(), deliveryID, body); err != nil {
		if errors.Is(err, ingest.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "shutting_down",
				"message": "Server is shutting down",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "enqueue_failed",
			"message": "Failed to queue transaction",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":        "accepted",
		"transactionId": txn.TransactionID,
		"deliveryId":    deliveryID,
	})
}
