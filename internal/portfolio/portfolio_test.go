package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/ledger"
	"fxtrader/internal/models"
	"fxtrader/internal/price"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2017, 5, 8, 0, 0, 0, 0, time.UTC)

type recorder struct{ events []models.Event }

func (r *recorder) Push(e models.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) orders() []models.OrderEvent {
	var out []models.OrderEvent
	for _, e := range r.events {
		if o, ok := e.(models.OrderEvent); ok {
			out = append(out, o)
		}
	}
	return out
}

type fixture struct {
	cache *price.Cache
	rec   *recorder
	mem   *ledger.Memory
	p     *Portfolio
	n     int
}

func newFixture(t *testing.T, policy OrderPolicy, instruments ...string) *fixture {
	t.Helper()
	if len(instruments) == 0 {
		instruments = []string{"EUR/USD"}
	}
	f := &fixture{cache: price.NewCache(instruments), rec: &recorder{}, mem: ledger.NewMemory()}
	p, err := New(Config{
		Equity:       d("1000000"),
		RiskPerTrade: d("0.002"),
		Backtest:     true,
		OrderPolicy:  policy,
	}, instruments, f.cache, f.rec, f.mem, nil)
	require.NoError(t, err)
	f.p = p
	return f
}

// tick updates the price cache like the tick source does, then marks the portfolio.
func (f *fixture) tick(t *testing.T, instrument, bid, ask string) models.TickEvent {
	t.Helper()
	tk := models.TickEvent{Instrument: instrument, Time: t0.Add(time.Duration(f.n) * time.Minute), Bid: d(bid), Ask: d(ask)}
	f.n++
	f.cache.Update(tk)
	require.NoError(t, f.p.UpdatePortfolio(tk))
	return tk
}

func (f *fixture) signal(t *testing.T, instrument string, side models.Side) {
	t.Helper()
	require.NoError(t, f.p.ExecuteSignal(models.SignalEvent{
		Instrument: instrument, OrderType: models.OrderAtMarket, Side: side,
	}))
}

func TestExecuteSignal_OpensLongWithTwoUnits(t *testing.T) {
	f := newFixture(t, OrderAlways)
	f.tick(t, "EUR/USD", "1.10000", "1.10020")

	assert.True(t, d("2").Equal(f.p.TradeUnits()))
	f.signal(t, "EUR/USD", models.SideEnter)

	orders := f.rec.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "EUR/USD", orders[0].Instrument)
	assert.Equal(t, int64(2), orders[0].Units)
	assert.Equal(t, models.OrderAtMarket, orders[0].OrderType)
	assert.Equal(t, models.SideEnter, orders[0].Side)
	assert.NotEmpty(t, orders[0].ID)

	ps, ok := f.p.Position("EUR/USD")
	require.True(t, ok)
	assert.Equal(t, models.PositionLong, ps.Type)
	assert.Equal(t, int64(2), ps.Units)
	assert.True(t, d("1.1002").Equal(ps.AvgPrice))
	assert.True(t, d("1.1").Equal(ps.CurPrice))
}

func TestExecuteSignal_TransitionTable(t *testing.T) {
	tests := []struct {
		name      string
		first     models.Side
		second    models.Side
		wantType  models.PositionType
		wantUnits int64
		wantOpen  bool
	}{
		{"long then enter adds", models.SideEnter, models.SideEnter, models.PositionLong, 4, true},
		{"long then exit closes", models.SideEnter, models.SideExit, "", 0, false},
		{"short then enter closes", models.SideExit, models.SideEnter, "", 0, false},
		{"short then exit adds", models.SideExit, models.SideExit, models.PositionShort, 4, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, OrderAlways)
			f.tick(t, "EUR/USD", "1.1", "1.1002")
			f.signal(t, "EUR/USD", tc.first)
			f.signal(t, "EUR/USD", tc.second)

			assert.Len(t, f.rec.orders(), 2, "one order per signal")
			ps, ok := f.p.Position("EUR/USD")
			require.Equal(t, tc.wantOpen, ok)
			if ok {
				assert.Equal(t, tc.wantType, ps.Type)
				assert.Equal(t, tc.wantUnits, ps.Units)
			}
		})
	}
}

func TestExecuteSignal_OnChangeSkipsSameDirection(t *testing.T) {
	f := newFixture(t, OrderOnChange)
	f.tick(t, "EUR/USD", "1.1", "1.1002")

	f.signal(t, "EUR/USD", models.SideEnter)
	f.signal(t, "EUR/USD", models.SideEnter)
	f.signal(t, "EUR/USD", models.SideExit)

	orders := f.rec.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.SideEnter, orders[0].Side)
	assert.Equal(t, models.SideExit, orders[1].Side)
	assert.Equal(t, 0, f.p.OpenPositions())
}

func TestClose_RealizesIntoBalance(t *testing.T) {
	f := newFixture(t, OrderAlways)
	f.tick(t, "EUR/USD", "1.10000", "1.10020")
	f.signal(t, "EUR/USD", models.SideEnter) // long 2 @ 1.1002

	f.tick(t, "EUR/USD", "1.10100", "1.10120")
	ps, _ := f.p.Position("EUR/USD")
	assert.True(t, d("0.0016").Equal(ps.UnrealizedPnL), ps.UnrealizedPnL.String())

	f.signal(t, "EUR/USD", models.SideExit)
	assert.True(t, d("1000000.0016").Equal(f.p.Balance()), f.p.Balance().String())

	// short 2 @ bid 1.101, closed at ask 1.0990
	f.signal(t, "EUR/USD", models.SideExit)
	f.tick(t, "EUR/USD", "1.09880", "1.09900")
	f.signal(t, "EUR/USD", models.SideEnter)

	assert.True(t, d("0.0056").Equal(f.p.RealizedPnL()), f.p.RealizedPnL().String())
	assert.True(t, f.p.Equity().Add(f.p.RealizedPnL()).Equal(f.p.Balance()))
}

func TestUpdatePortfolio_WritesOneRowPerTick(t *testing.T) {
	f := newFixture(t, OrderAlways, "EUR/USD", "GBP/USD")
	f.tick(t, "EUR/USD", "1.1", "1.1002")
	f.signal(t, "EUR/USD", models.SideEnter)
	f.tick(t, "GBP/USD", "1.29", "1.2902")
	f.tick(t, "EUR/USD", "1.1001", "1.1003")

	rows := f.mem.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"EUR/USD", "GBP/USD"}, f.mem.Instruments())

	assert.False(t, rows[0].PnL[0].Valid)
	assert.True(t, rows[1].PnL[0].Valid)
	assert.True(t, d("-0.0004").Equal(rows[1].PnL[0].Decimal))
	assert.False(t, rows[1].PnL[1].Valid)
	assert.True(t, d("-0.0002").Equal(rows[2].PnL[0].Decimal))
	assert.Equal(t, t0.Add(2*time.Minute), rows[2].Timestamp)
}

func TestPortfolio_MissingPosition(t *testing.T) {
	f := newFixture(t, OrderAlways)
	assert.ErrorIs(t, f.p.ClosePosition("EUR/USD"), ErrNoPosition)
	assert.ErrorIs(t, f.p.AddPositionUnits("EUR/USD", 1), ErrNoPosition)
	assert.ErrorIs(t, f.p.RemovePositionUnits("EUR/USD", 1), ErrNoPosition)

	f.tick(t, "EUR/USD", "1.1", "1.1002")
	require.NoError(t, f.p.AddNewPosition(models.PositionLong, "EUR/USD", 3))
	assert.ErrorIs(t, f.p.AddNewPosition(models.PositionShort, "EUR/USD", 3), ErrPositionExists)
	assert.ErrorIs(t, f.p.RemovePositionUnits("EUR/USD", 4), ErrInsufficientUnits)

	require.NoError(t, f.p.RemovePositionUnits("EUR/USD", 3))
	assert.Equal(t, 0, f.p.OpenPositions())
}

func TestPortfolio_ReplayIsDeterministic(t *testing.T) {
	run := func() []ledger.Snapshot {
		f := newFixture(t, OrderAlways)
		bids := []string{"1.1", "1.1003", "1.0998", "1.1010", "1.1007", "1.0990"}
		for i, b := range bids {
			f.tick(t, "EUR/USD", b, d(b).Add(d("0.0002")).String())
			if i%2 == 0 {
				side := models.SideEnter
				if i%4 == 2 {
					side = models.SideExit
				}
				f.signal(t, "EUR/USD", side)
			}
		}
		return f.mem.Rows()
	}
	first, second := run(), run()
	require.Len(t, first, 6)
	assert.Equal(t, first, second)
}

func TestNew_RejectsSubUnitTradeSize(t *testing.T) {
	rec := &recorder{}
	_, err := New(Config{
		Equity:       d("100000"),
		RiskPerTrade: d("0.002"),
	}, []string{"EUR/USD"}, price.NewCache([]string{"EUR/USD"}), rec, nil, nil)
	require.ErrorIs(t, err, ErrNoTradeUnits)
	assert.Empty(t, rec.events)
}
