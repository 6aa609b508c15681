package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrClosed = errors.New("ledger closed")

// Snapshot is one row of the equity log: the balance after a tick and the
// unrealized P&L of every instrument, in instrument order. An invalid entry means
// no position was open.
type Snapshot struct {
	Timestamp time.Time
	Balance   decimal.Decimal
	PnL       []decimal.NullDecimal
}

// Writer is an append-only sink for snapshots.
type Writer interface {
	WriteHeader(instruments []string) error
	Append(s Snapshot) error
	Close() error
}

// Memory keeps every snapshot. Used for in-process performance calculation and tests.
type Memory struct {
	instruments []string
	rows        []Snapshot
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteHeader(instruments []string) error {
	m.instruments = append([]string(nil), instruments...)
	return nil
}

func (m *Memory) Append(s Snapshot) error {
	s.PnL = append([]decimal.NullDecimal(nil), s.PnL...)
	m.rows = append(m.rows, s)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Instruments() []string { return m.instruments }

func (m *Memory) Rows() []Snapshot { return m.rows }

// Multi fans every call out to all writers and joins their errors.
type Multi []Writer

func (m Multi) WriteHeader(instruments []string) error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.WriteHeader(instruments))
	}
	return errors.Join(errs...)
}

func (m Multi) Append(s Snapshot) error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.Append(s))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
