package broker

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Candle is one historical bar as the broker returns it.
type Candle struct {
	Time     time.Time
	BidOpen  decimal.Decimal
	BidClose decimal.Decimal
	BidHigh  decimal.Decimal
	BidLow   decimal.Decimal
	AskOpen  decimal.Decimal
	AskClose decimal.Decimal
	AskHigh  decimal.Decimal
	AskLow   decimal.Decimal
	TickQty  int64
}

type CandlesRequest struct {
	OfferID string // broker instrument id, "1" is EUR/USD
	Period  string // m1, H1, D1 ...
	Num     int
	From    time.Time
	To      time.Time
}

type candlesResponse struct {
	Candles [][]decimal.Decimal `json:"candles"`
}

// Candles fetches historical bars: GET /candles/<offer>/<period>.
func (c *Client) Candles(ctx context.Context, r CandlesRequest) ([]Candle, error) {
	params := url.Values{}
	params.Set("num", strconv.Itoa(r.Num))
	if !r.From.IsZero() {
		params.Set("from", strconv.FormatInt(r.From.Unix(), 10))
	}
	if !r.To.IsZero() {
		params.Set("to", strconv.FormatInt(r.To.Unix(), 10))
	}

	raw, err := c.Get(ctx, fmt.Sprintf("/candles/%s/%s", r.OfferID, r.Period), params)
	if err != nil {
		return nil, err
	}
	var resp candlesResponse
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	out := make([]Candle, 0, len(resp.Candles))
	for i, row := range resp.Candles {
		if len(row) < 10 {
			return nil, fmt.Errorf("candle %d: %d fields, want 10", i, len(row))
		}
		out = append(out, Candle{
			Time:     time.Unix(row[0].IntPart(), 0).UTC(),
			BidOpen:  row[1],
			BidClose: row[2],
			BidHigh:  row[3],
			BidLow:   row[4],
			AskOpen:  row[5],
			AskClose: row[6],
			AskHigh:  row[7],
			AskLow:   row[8],
			TickQty:  row[9].IntPart(),
		})
	}
	return out, nil
}

var candleHeader = []string{"time", "bidopen", "bidclose", "bidhigh", "bidlow", "askopen", "askclose", "askhigh", "asklow", "TickQty"}

// WriteCandlesCSV writes bars in the layout price.ReadCSV loads.
func WriteCandlesCSV(w io.Writer, candles []Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			c.Time.Format(time.RFC3339),
			c.BidOpen.String(), c.BidClose.String(), c.BidHigh.String(), c.BidLow.String(),
			c.AskOpen.String(), c.AskClose.String(), c.AskHigh.String(), c.AskLow.String(),
			strconv.FormatInt(c.TickQty, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
