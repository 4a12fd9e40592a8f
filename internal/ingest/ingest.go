// Package ingest pulls transactions from an upstream source and feeds them
// through the decision pipeline.
//
// Deliveries are acknowledged only after a decision has been produced and
// durably handed off, so a crash mid-evaluation leaves the message for
// redelivery. Duplicate deliveries are absorbed downstream by the
// first-write-wins audit store.
package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Receive once the source has been closed and
// drained.
var ErrClosed = errors.New("ingest: source closed")

// Delivery is one raw transaction message awaiting acknowledgement.
type Delivery struct {
	ID   string
	Body []byte

	ack  func()
	nack func()
}

// Ack marks the delivery as successfully processed.
func (d *Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack returns the delivery to the source for redelivery.
func (d *Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

// Source yields transaction deliveries. Receive blocks until a delivery is
// available, ctx is cancelled, or the source is closed.
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// ChanSource is an in-process Source backed by a channel. Nacked deliveries
// are requeued.
type ChanSource struct {
	ch   chan *Delivery
	done chan struct{}

	closeOnce sync.Once
}

// NewChanSource creates a ChanSource with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		ch:   make(chan *Delivery, buffer),
		done: make(chan struct{}),
	}
}

// Submit enqueues a message. It blocks when the buffer is full and fails
// once the source is closed.
func (s *ChanSource) Submit(ctx context.Context, id string, body []byte) error {
	d := &Delivery{ID: id, Body: body}
	d.nack = func() { s.requeue(d) }

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.ch <- d:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSource) requeue(d *Delivery) {
	select {
	case s.ch <- d:
	case <-s.done:
	default:
		// Buffer full: drop rather than deadlock the worker doing the nack.
	}
}

func (s *ChanSource) Receive(ctx context.Context) (*Delivery, error) {
	// Drain buffered deliveries even after Close.
	select {
	case d := <-s.ch:
		return d, nil
	default:
	}

	select {
	case d := <-s.ch:
		return d, nil
	case <-s.done:
		select {
		case d := <-s.ch:
			return d, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the source. Buffered deliveries remain receivable.
func (s *ChanSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
