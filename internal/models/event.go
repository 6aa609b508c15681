package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the tag of an Event.
type EventType string

const (
	EventTick   EventType = "TICK"
	EventSignal EventType = "SIGNAL"
	EventOrder  EventType = "ORDER"
)

// Event is the closed set of records passed through the queue.
// Only types in this package can implement it.
type Event interface {
	Type() EventType
	isEvent()
}

// Side of a signal/order. Enter maps to a buy, Exit to a sell.
type Side bool

const (
	SideExit  Side = false
	SideEnter Side = true
)

func (s Side) String() string {
	if s == SideEnter {
		return "enter"
	}
	return "exit"
}

// IsBuy is what the broker expects in its is_buy field.
func (s Side) IsBuy() bool { return bool(s) }

// OrderType: only at-market orders are supported.
type OrderType string

const OrderAtMarket OrderType = "AtMarket"

// TickEvent is a bid/ask update for one instrument.
type TickEvent struct {
	Instrument string
	Time       time.Time
	Bid        decimal.Decimal
	Ask        decimal.Decimal
}

func (TickEvent) Type() EventType { return EventTick }
func (TickEvent) isEvent()        {}

func (t TickEvent) String() string {
	return fmt.Sprintf("Type: %s, Instrument: %s, Time: %s, Bid: %s, Ask: %s",
		EventTick, t.Instrument, t.Time.Format(time.RFC3339), t.Bid, t.Ask)
}

// SignalEvent is a strategy request to enter or exit, not yet sized.
type SignalEvent struct {
	Instrument string
	OrderType  OrderType
	Side       Side
	Time       time.Time
}

func (SignalEvent) Type() EventType { return EventSignal }
func (SignalEvent) isEvent()        {}

func (s SignalEvent) String() string {
	return fmt.Sprintf("Type: %s, Instrument: %s, Order Type: %s, Side: %s",
		EventSignal, s.Instrument, s.OrderType, s.Side)
}

// OrderEvent is a sized instruction for the execution gateway.
type OrderEvent struct {
	ID         string
	Instrument string
	Units      int64
	OrderType  OrderType
	Side       Side
}

func (OrderEvent) Type() EventType { return EventOrder }
func (OrderEvent) isEvent()        {}

func (o OrderEvent) String() string {
	return fmt.Sprintf("Type: %s, Instrument: %s, Units: %d, Order Type: %s, Side: %s",
		EventOrder, o.Instrument, o.Units, o.OrderType, o.Side)
}
