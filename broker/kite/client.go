// Package kite is a Kite Connect v3 client covering quotes, historical
// candles, the instrument master, regular orders and margins.
package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/optbot/broker"
)

const (
	// APIURL is the Kite Connect REST root.
	APIURL = "https://api.kite.trade"
	// TickerURL is the streaming quote endpoint.
	TickerURL = "wss://ws.kite.trade"

	apiVersion = "3"
)

// Client talks to the Kite Connect REST API. It implements broker.Broker.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client

	// Product for new orders, MIS for intraday.
	Product string

	// PollInterval and FillTimeout bound how long a market order is
	// watched for its fill.
	PollInterval time.Duration
	FillTimeout  time.Duration

	loc *time.Location
}

// NewClient creates a client for api.kite.trade.
func NewClient(apiKey, accessToken string) *Client {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &Client{
		baseURL:      APIURL,
		apiKey:       apiKey,
		accessToken:  accessToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		Product:      "MIS",
		PollInterval: DefaultPollInterval,
		FillTimeout:  DefaultFillTimeout,
		loc:          loc,
	}
}

// SetAccessToken swaps the session token, e.g. after the daily login.
func (c *Client) SetAccessToken(token string) {
	c.accessToken = token
}

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, query, form url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// do executes a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, query, form)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &broker.APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		status := resp.StatusCode
		if status == http.StatusOK {
			status = http.StatusBadRequest
		}
		return &broker.APIError{Status: status, Type: env.ErrorType, Message: env.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

// getRaw is for endpoints that answer with CSV instead of JSON.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var env envelope
		_ = json.Unmarshal(b, &env)
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return nil, &broker.APIError{Status: resp.StatusCode, Type: env.ErrorType, Message: msg}
	}
	return b, nil
}

type marginsResponse struct {
	Equity struct {
		Net       float64 `json:"net"`
		Available struct {
			Cash        float64 `json:"cash"`
			LiveBalance float64 `json:"live_balance"`
		} `json:"available"`
		Utilised struct {
			Debits float64 `json:"debits"`
		} `json:"utilised"`
	} `json:"equity"`
}

// Margins returns the equity segment funds.
func (c *Client) Margins(ctx context.Context) (broker.Account, error) {
	var m marginsResponse
	if err := c.do(ctx, http.MethodGet, "/user/margins", nil, nil, &m); err != nil {
		return broker.Account{}, err
	}
	avail := m.Equity.Available.LiveBalance
	if avail == 0 {
		avail = m.Equity.Available.Cash
	}
	return broker.Account{
		Net:       m.Equity.Net,
		Available: avail,
		Used:      m.Equity.Utilised.Debits,
	}, nil
}

type profileResponse struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Profile checks the session token and returns the user id.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var p profileResponse
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, nil, &p); err != nil {
		return "", err
	}
	return p.UserID, nil
}
