package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/execution"
	"fxtrader/internal/ledger"
	"fxtrader/internal/models"
	"fxtrader/internal/portfolio"
	"fxtrader/internal/price"
	"fxtrader/internal/queue"
	"fxtrader/internal/strategy"
)

var t0 = time.Date(2017, 5, 8, 0, 0, 0, 0, time.UTC)

func rows() []price.Row {
	bids := []string{
		"1.10000", "1.10010", "1.10050", "1.09990", "1.10120", "1.10200", "1.10150",
		"1.09900", "1.09800", "1.09750", "1.09950", "1.10300", "1.10400", "1.10100",
		"1.09700", "1.09600",
	}
	var out []price.Row
	for i, b := range bids {
		bid := decimal.RequireFromString(b)
		out = append(out,
			price.Row{Instrument: "EUR/USD", Time: t0.Add(time.Duration(i) * time.Hour), Bid: bid, Ask: bid.Add(decimal.RequireFromString("0.0002"))},
			price.Row{Instrument: "GBP/USD", Time: t0.Add(time.Duration(i) * time.Hour), Bid: bid.Add(decimal.RequireFromString("0.2")), Ask: bid.Add(decimal.RequireFromString("0.2003"))},
		)
	}
	return out
}

type run struct {
	engine    *Engine
	portfolio *portfolio.Portfolio
	ledger    *ledger.Memory
	exec      *execution.Simulated
}

func backtest(t *testing.T, maxIter int64) run {
	t.Helper()
	instruments := []string{"EUR/USD", "GBP/USD"}
	q := queue.New()
	src := price.NewHistoric(instruments, rows(), q, nil)
	st := strategy.NewMovingAverageCross(strategy.MACrossConfig{ShortWindow: 2, LongWindow: 4}, instruments, q, nil)
	mem := ledger.NewMemory()
	pf, err := portfolio.New(portfolio.Config{
		Equity:       decimal.NewFromInt(1000000),
		RiskPerTrade: decimal.RequireFromString("0.002"),
		Backtest:     true,
	}, instruments, src.Prices(), q, mem, nil)
	require.NoError(t, err)
	ex := execution.NewSimulated()

	e := New(Config{MaxIterations: maxIter}, q, src, st, pf, ex, nil)
	require.NoError(t, e.Run(context.Background()))
	return run{engine: e, portfolio: pf, ledger: mem, exec: ex}
}

func TestBacktest_EndToEnd(t *testing.T) {
	r := backtest(t, 0)

	stats := r.engine.Stats()
	assert.Equal(t, int64(32), stats.Ticks)
	assert.Len(t, r.ledger.Rows(), 32, "one snapshot per tick")
	assert.Positive(t, stats.Signals)
	assert.Equal(t, stats.Signals, stats.Orders, "one order per signal")
	assert.Equal(t, stats.Orders, r.exec.Orders())
	assert.Zero(t, stats.Failures)

	pf := r.portfolio
	assert.True(t, pf.Equity().Add(pf.RealizedPnL()).Equal(pf.Balance()))
}

func TestBacktest_Deterministic(t *testing.T) {
	a, b := backtest(t, 0), backtest(t, 0)
	assert.Equal(t, a.ledger.Rows(), b.ledger.Rows())
	assert.Equal(t, a.engine.Stats(), b.engine.Stats())
}

func TestBacktest_MaxIterations(t *testing.T) {
	r := backtest(t, 5)
	assert.Equal(t, int64(5), r.engine.Stats().Iterations)
	assert.Less(t, len(r.ledger.Rows()), 32)
}

// scripted pieces for routing tests

type script struct {
	events []models.Event
	calls  *[]string
	more   bool
}

func (s *script) TryPop() (models.Event, bool) {
	if len(s.events) == 0 {
		return nil, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

func (s *script) HasMore() bool         { return s.more }
func (s *script) Instruments() []string { return nil }
func (s *script) Prices() *price.Cache  { return nil }

func (s *script) Next(context.Context) error {
	*s.calls = append(*s.calls, "next")
	s.more = false
	return nil
}

type spy struct {
	calls  *[]string
	panics bool
	fail   error
}

func (s *spy) CalculateSignals(e models.Event) {
	*s.calls = append(*s.calls, "strategy:"+string(e.Type()))
	if s.panics {
		panic("boom")
	}
}
func (s *spy) Name() string       { return "spy" }
func (s *spy) Dump(string) string { return "" }
func (s *spy) UpdatePortfolio(models.TickEvent) error {
	*s.calls = append(*s.calls, "update")
	return s.fail
}
func (s *spy) ExecuteSignal(models.SignalEvent) error {
	*s.calls = append(*s.calls, "signal")
	return s.fail
}
func (s *spy) ExecuteOrder(context.Context, models.OrderEvent) error {
	*s.calls = append(*s.calls, "order")
	return s.fail
}

func TestDispatch_Routing(t *testing.T) {
	var calls []string
	src := &script{
		events: []models.Event{
			models.TickEvent{Instrument: "EUR/USD"},
			models.SignalEvent{Instrument: "EUR/USD"},
			models.OrderEvent{Instrument: "EUR/USD"},
		},
		calls: &calls,
		more:  true,
	}
	s := &spy{calls: &calls}
	e := New(Config{}, src, src, s, s, s, nil)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{"strategy:TICK", "update", "signal", "order", "next"}, calls)
	assert.Equal(t, Stats{Iterations: 4, Ticks: 1, Signals: 1, Orders: 1}, e.Stats())
}

func TestDispatch_FailuresDoNotStopTheLoop(t *testing.T) {
	var calls []string
	src := &script{
		events: []models.Event{
			models.TickEvent{Instrument: "EUR/USD"},
			models.SignalEvent{Instrument: "EUR/USD"},
		},
		calls: &calls,
		more:  true,
	}
	s := &spy{calls: &calls, panics: true, fail: errors.New("no position")}
	e := New(Config{}, src, src, s, s, s, nil)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{"strategy:TICK", "signal", "next"}, calls)
	assert.Equal(t, int64(2), e.Stats().Failures)
}

func TestRun_Cancelled(t *testing.T) {
	var calls []string
	src := &script{calls: &calls, more: true}
	s := &spy{calls: &calls}
	e := New(Config{Heartbeat: time.Hour}, src, &stuck{}, s, s, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// stuck never runs dry, like a live source.
type stuck struct{}

func (stuck) HasMore() bool              { return true }
func (stuck) Next(context.Context) error { return nil }
func (stuck) Instruments() []string      { return nil }
func (stuck) Prices() *price.Cache       { return nil }
