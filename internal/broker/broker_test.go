package broker

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu         sync.Mutex
	forms      map[string][]map[string]string
	auth       []string
	executed   bool
	frames     []string
	wsAccepted atomic.Int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{forms: map[string][]map[string]string{}, executed: true}
}

func (b *fakeBroker) handler(t *testing.T) http.Handler {
	up := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b.wsAccepted.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"sid":"s1"}`))
		for _, f := range b.frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	form := func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		rec := map[string]string{}
		for k := range r.PostForm {
			rec[k] = r.PostForm.Get(k)
		}
		b.mu.Lock()
		b.forms[r.URL.Path] = append(b.forms[r.URL.Path], rec)
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		executed := b.executed
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if executed {
			_, _ = w.Write([]byte(`{"response":{"executed":true},"data":{"orderId":"1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":{"executed":false,"error":"market closed"}}`))
	}
	mux.HandleFunc("/subscribe", form)
	mux.HandleFunc("/trading/open_trade", form)
	mux.HandleFunc("/candles/1/H1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "2", r.URL.Query().Get("num"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"executed":true},"instrument_id":"1","period_id":"H1","candles":[` +
			`[1494201600,1.09999,1.1001,1.1002,1.0998,1.1002,1.1003,1.1004,1.1,120],` +
			`[1494205200,1.1001,1.1005,1.1006,1.1,1.1003,1.1007,1.1008,1.1002,98]]}`))
	})
	mux.HandleFunc("/candles/1/m1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"executed":true},"candles":[[1494201600,1.1]]}`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	return mux
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		AccountID:   "1583865",
		URL:         srv.URL,
		StreamURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		AccessToken: "tok",
		Timeout:     2 * time.Second,
	}, nil, nil)
}

func TestOpenTrade(t *testing.T) {
	fb := newFakeBroker()
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()
	c := newTestClient(srv)

	_, err := c.OpenTrade(context.Background(), OpenTrade{Symbol: "EUR/USD", IsBuy: true, Amount: 2, OrderType: "AtMarket"})
	require.NoError(t, err)

	got := fb.forms["/trading/open_trade"][0]
	assert.Equal(t, map[string]string{
		"account_id":    "1583865",
		"symbol":        "EUR/USD",
		"is_buy":        "true",
		"rate":          "0",
		"amount":        "2",
		"at_market":     "0",
		"order_type":    "AtMarket",
		"time_in_force": "GTC",
	}, got)
	assert.Equal(t, "Bearer tok", fb.auth[0])
}

func TestOpenTrade_NotExecuted(t *testing.T) {
	fb := newFakeBroker()
	fb.executed = false
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv).OpenTrade(context.Background(), OpenTrade{Symbol: "EUR/USD", Amount: 2})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "market closed", apiErr.Message)
}

func TestPost_HTTPStatus(t *testing.T) {
	fb := newFakeBroker()
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv).Post(context.Background(), "/broken", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

type connFlag struct{ v atomic.Bool }

func (c *connFlag) SetWSConnected(v bool) { c.v.Store(v) }

func TestStream(t *testing.T) {
	fb := newFakeBroker()
	fb.frames = []string{
		`{"Symbol":"EUR/USD","Updated":1504224000000,"Rates":[1.19123,1.19135,1.2,1.1]}`,
		`not json`,
		`{"Symbol":"EUR/USD","Rates":[1.1]}`,
		`{"Symbol":"EUR/USD","Updated":1504224001000,"Rates":[1.19124,1.19136]}`,
	}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newTestClient(srv)
	flag := &connFlag{}
	c.observer = flag

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, []string{"EUR/USD"})
	require.NoError(t, err)
	assert.True(t, flag.v.Load())

	first := <-ch
	assert.Equal(t, "EUR/USD", first.Symbol)
	assert.True(t, decimal.RequireFromString("1.19123").Equal(first.Bid))
	assert.True(t, decimal.RequireFromString("1.19135").Equal(first.Ask))
	assert.Equal(t, time.UnixMilli(1504224000000).UTC(), first.Time)

	second := <-ch
	assert.Equal(t, time.UnixMilli(1504224001000).UTC(), second.Time)

	assert.Equal(t, "Bearer s1tok", c.Bearer())
	fb.mu.Lock()
	assert.Equal(t, "EUR/USD", fb.forms["/subscribe"][0]["pairs"])
	fb.mu.Unlock()

	cancel()
	for range ch {
	}
}

func TestStream_Unreachable(t *testing.T) {
	c := NewClient(Config{URL: "http://127.0.0.1:1", StreamURL: "ws://127.0.0.1:1/stream", Timeout: time.Second}, nil, nil)
	_, err := c.Stream(context.Background(), []string{"EUR/USD"})
	assert.Error(t, err)
}

func TestCandles(t *testing.T) {
	fb := newFakeBroker()
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()
	c := newTestClient(srv)

	candles, err := c.Candles(context.Background(), CandlesRequest{OfferID: "1", Period: "H1", Num: 2})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Unix(1494201600, 0).UTC(), candles[0].Time)
	assert.True(t, decimal.RequireFromString("1.09999").Equal(candles[0].BidOpen))
	assert.True(t, decimal.RequireFromString("1.1002").Equal(candles[0].AskOpen))
	assert.Equal(t, int64(98), candles[1].TickQty)

	var buf bytes.Buffer
	require.NoError(t, WriteCandlesCSV(&buf, candles))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,bidopen,bidclose,bidhigh,bidlow,askopen,askclose,askhigh,asklow,TickQty", lines[0])
	assert.Equal(t, "2017-05-08T00:00:00Z,1.09999,1.1001,1.1002,1.0998,1.1002,1.1003,1.1004,1.1,120", lines[1])
}

func TestCandles_ShortRow(t *testing.T) {
	fb := newFakeBroker()
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv).Candles(context.Background(), CandlesRequest{OfferID: "1", Period: "m1", Num: 1})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	fb := newFakeBroker()
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()
	c := newTestClient(srv)

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "Bearer s1tok", c.Bearer())
}
