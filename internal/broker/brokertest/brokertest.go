// Package brokertest runs an in-process broker for tests: the push stream sends a
// session handshake followed by price frames, and REST calls are always executed.
package brokertest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type Server struct {
	*httptest.Server

	frames []string
	orders atomic.Int64
	subs   atomic.Int64
}

// NewServer starts a broker that streams frames, one every millisecond, to
// each connection.
func NewServer(frames ...string) *Server {
	s := &Server{frames: frames}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.stream)
	mux.HandleFunc("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		s.subs.Add(1)
		executed(w)
	})
	mux.HandleFunc("/trading/open_trade", func(w http.ResponseWriter, r *http.Request) {
		s.orders.Add(1)
		executed(w)
	})
	s.Server = httptest.NewServer(mux)
	return s
}

// Ticks builds n EUR/USD style frames for symbol with a bid rising by one pip.
func Ticks(symbol string, n int) []string {
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		bid := 1.1 + float64(i)*0.0001
		out = append(out, fmt.Sprintf(`{"Symbol":%q,"Updated":%d,"Rates":[%.5f,%.5f]}`,
			symbol, start.Add(time.Duration(i)*time.Second).UnixMilli(), bid, bid+0.0002))
	}
	return out
}

func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/stream"
}

// Orders is the number of open_trade calls received.
func (s *Server) Orders() int64 { return s.orders.Load() }

// Subscriptions is the number of subscribe calls received.
func (s *Server) Subscriptions() int64 { return s.subs.Load() }

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"sid":"test-session"}`)); err != nil {
		return
	}
	go func() {
		for _, f := range s.frames {
			time.Sleep(time.Millisecond)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}()
	// hold the connection until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func executed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"response":{"executed":true}}`))
}
