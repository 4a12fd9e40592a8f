package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/metrics"
)

// Handler processes one transaction. A nil return acknowledges the
// delivery; an error sends it back for redelivery.
type Handler func(ctx context.Context, txn decision.Transaction) error

// Consumer runs a pool of workers pulling deliveries from a Source.
type Consumer struct {
	source  Source
	handler Handler
	workers int
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewConsumer creates a consumer with the given worker count.
func NewConsumer(source Source, handler Handler, workers int, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		source:  source,
		handler: handler,
		workers: workers,
		logger:  logger.With("component", "ingest_consumer"),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// source closes; Wait blocks until they all have.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			c.run(ctx, worker)
		}(i)
	}
}

// Wait blocks until all workers have stopped.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, worker int) {
	for {
		d, err := c.source.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				c.logger.Error("receive failed", "worker", worker, "error", err)
			}
			return
		}
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d *Delivery) {
	var txn decision.Transaction
	if err := json.Unmarshal(d.Body, &txn); err != nil {
		// Malformed payloads can never succeed; drop them instead of
		// looping on redelivery.
		c.logger.Warn("dropping malformed message", "delivery_id", d.ID, "error", err)
		d.Ack()
		metrics.IngestAckedTotal.Inc()
		return
	}
	if err := txn.Validate(); err != nil {
		c.logger.Warn("dropping invalid transaction",
			"delivery_id", d.ID,
			"transaction_id", txn.TransactionID,
			"error", err)
		d.Ack()
		metrics.IngestAckedTotal.Inc()
		return
	}

	if err := c.handler(ctx, txn); err != nil {
		c.logger.Warn("evaluation failed, returning message",
			"delivery_id", d.ID,
			"transaction_id", txn.TransactionID,
			"error", err)
		d.Nack()
		metrics.IngestRetriedTotal.Inc()
		return
	}

	d.Ack()
	metrics.IngestAckedTotal.Inc()
}
