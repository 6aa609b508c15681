package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	AccountID   string
	URL         string // REST base, e.g. https://api-demo.example.com:443
	StreamURL   string // ws:// or wss:// push endpoint
	AccessToken string
	Timeout     time.Duration
}

// ConnObserver is told when the push stream connects and disconnects.
type ConnObserver interface {
	SetWSConnected(v bool)
}

// APIError is a non-200 reply or a reply with executed=false.
type APIError struct {
	Method  string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != http.StatusOK {
		return fmt.Sprintf("%s: http status %d", e.Method, e.Status)
	}
	return fmt.Sprintf("%s: not executed: %s", e.Method, e.Message)
}

type envelope struct {
	Response struct {
		Executed bool   `json:"executed"`
		Error    string `json:"error"`
	} `json:"response"`
}

// Client talks to the broker's REST API and its price push stream.
type Client struct {
	cfg      Config
	http     *http.Client
	wsDialer *websocket.Dialer
	observer ConnObserver
	log      *zap.Logger

	mu      sync.RWMutex
	session string
}

func NewClient(cfg Config, observer ConnObserver, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		wsDialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		observer: observer,
		log:      log,
	}
}

// Bearer is "Bearer " + stream session id + access token.
func (c *Client) Bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return "Bearer " + c.session + c.cfg.AccessToken
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

// Post sends a form-encoded request and decodes the response envelope.
func (c *Client) Post(ctx context.Context, method string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, method, form)
}

// Get sends params in the query string.
func (c *Client) Get(ctx context.Context, method string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, method, params)
}

func (c *Client) do(ctx context.Context, verb, method string, params url.Values) ([]byte, error) {
	target := strings.TrimRight(c.cfg.URL, "/") + method
	var body io.Reader
	if verb == http.MethodGet {
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "request")
	req.Header.Set("Authorization", c.Bearer())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return raw, &APIError{Method: method, Status: resp.StatusCode}
	}

	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return raw, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !env.Response.Executed {
		return raw, &APIError{Method: method, Status: resp.StatusCode, Message: env.Response.Error}
	}
	return raw, nil
}

// OpenTrade is an at-market order.
type OpenTrade struct {
	Symbol    string
	IsBuy     bool
	Amount    int64
	OrderType string
}

func (c *Client) OpenTrade(ctx context.Context, o OpenTrade) ([]byte, error) {
	form := url.Values{}
	form.Set("account_id", c.cfg.AccountID)
	form.Set("symbol", o.Symbol)
	form.Set("is_buy", strconv.FormatBool(o.IsBuy))
	form.Set("rate", "0")
	form.Set("amount", strconv.FormatInt(o.Amount, 10))
	form.Set("at_market", "0")
	form.Set("order_type", o.OrderType)
	form.Set("time_in_force", "GTC")
	return c.Post(ctx, "/trading/open_trade", form)
}

// Subscribe asks the broker to push prices for pair over the stream.
func (c *Client) Subscribe(ctx context.Context, pair string) error {
	_, err := c.Post(ctx, "/subscribe", url.Values{"pairs": {pair}})
	return err
}
