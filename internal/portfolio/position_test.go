package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/models"
	"fxtrader/internal/price"
)

func quote(c *price.Cache, bid, ask string) {
	c.Set("EUR/USD", price.Quote{Bid: d(bid), Ask: d(ask)})
}

func TestPosition_AddRemoveRoundTrip(t *testing.T) {
	c := price.NewCache([]string{"EUR/USD"})
	quote(c, "1.10000", "1.10020")

	ps, err := NewPosition("USD", models.PositionLong, "EUR/USD", 3, c)
	require.NoError(t, err)
	avg, units := ps.AvgPrice, ps.Units

	quote(c, "1.10300", "1.10330")
	require.NoError(t, ps.AddUnits(5))
	assert.Equal(t, int64(8), ps.Units)
	assert.False(t, avg.Equal(ps.AvgPrice))

	realized, err := ps.RemoveUnits(5)
	require.NoError(t, err)
	assert.Equal(t, units, ps.Units)
	assert.True(t, avg.Equal(ps.AvgPrice), "avg %s, want %s", ps.AvgPrice, avg)
	// 5 units bought at 1.1033, marked at 1.103
	assert.True(t, d("-0.0015").Equal(realized), realized.String())
	assert.True(t, realized.Equal(ps.RealizedPnL))
}

func TestPosition_ShortMarksAtAsk(t *testing.T) {
	c := price.NewCache([]string{"EUR/USD"})
	quote(c, "1.10000", "1.10020")

	ps, err := NewPosition("USD", models.PositionShort, "EUR/USD", 2, c)
	require.NoError(t, err)
	assert.True(t, d("1.1").Equal(ps.AvgPrice))
	assert.True(t, d("-0.0004").Equal(ps.UnrealizedPnL))

	quote(c, "1.09900", "1.09910")
	require.NoError(t, ps.UpdatePrice())
	assert.True(t, d("0.0018").Equal(ps.UnrealizedPnL), ps.UnrealizedPnL.String())
}

func TestPosition_CloseKeepsLastUnrealized(t *testing.T) {
	c := price.NewCache([]string{"EUR/USD"})
	quote(c, "1.10000", "1.10020")
	ps, err := NewPosition("USD", models.PositionLong, "EUR/USD", 2, c)
	require.NoError(t, err)

	// no UpdatePrice before closing
	quote(c, "1.20000", "1.20020")
	realized := ps.Close()
	assert.True(t, d("-0.0004").Equal(realized))
	assert.True(t, d("-0.0004").Equal(ps.UnrealizedPnL))
	assert.Equal(t, int64(0), ps.Units)
}

func TestPosition_Errors(t *testing.T) {
	c := price.NewCache([]string{"EUR/USD"})
	_, err := NewPosition("USD", models.PositionLong, "EUR/USD", 2, c)
	assert.ErrorIs(t, err, price.ErrUnknownSymbol)

	quote(c, "1.1", "1.1002")
	ps, err := NewPosition("USD", models.PositionLong, "EUR/USD", 2, c)
	require.NoError(t, err)

	_, err = ps.RemoveUnits(3)
	assert.ErrorIs(t, err, ErrInsufficientUnits)
	assert.Error(t, ps.AddUnits(0))
	assert.Equal(t, int64(2), ps.Units)
}
