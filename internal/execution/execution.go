package execution

import (
	"context"
	"sync/atomic"

	"fxtrader/internal/models"
)

// Handler submits orders. A nil error means the order was accepted.
type Handler interface {
	ExecuteOrder(ctx context.Context, o models.OrderEvent) error
}

// Simulated fills every order instantly and for free.
type Simulated struct {
	orders atomic.Int64
}

func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) ExecuteOrder(context.Context, models.OrderEvent) error {
	s.orders.Add(1)
	return nil
}

// Orders is the number of orders seen.
func (s *Simulated) Orders() int64 { return s.orders.Load() }
