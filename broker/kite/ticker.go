package kite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/market"
)

const (
	tickerReadTimeout  = 30 * time.Second
	tickerWriteTimeout = 10 * time.Second
	// a connection that lived this long resets the reconnect backoff
	tickerStableAfter = time.Minute
)

// Ticker streams last-traded prices over the Kite WebSocket into a
// QuoteStore. Tokens must be bound in the store to land under a symbol.
type Ticker struct {
	url         string
	apiKey      string
	accessToken string
	store       *market.QuoteStore
	log         zerolog.Logger
	dialer      *websocket.Dialer

	mu        sync.Mutex
	connected bool
	lastTick  time.Time
}

func NewTicker(apiKey, accessToken string, store *market.QuoteStore, log zerolog.Logger) *Ticker {
	return &Ticker{
		url:         TickerURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		store:       store,
		log:         log.With().Str("component", "ticker").Logger(),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Connected reports whether a stream is currently open.
func (t *Ticker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// LastTick is the time the most recent price packet arrived.
func (t *Ticker) LastTick() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTick
}

// Run keeps a subscription open for tokens until ctx is done,
// reconnecting with exponential backoff. A rejected handshake is
// returned as broker.ErrAuth.
func (t *Ticker) Run(ctx context.Context, tokens []uint32) error {
	if len(tokens) == 0 {
		return errors.New("ticker: no tokens to subscribe")
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := t.session(ctx, tokens)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, broker.ErrAuth) {
			return err
		}
		if time.Since(started) > tickerStableAfter {
			eb.Reset()
		}
		wait := eb.NextBackOff()
		t.log.Warn().Err(err).Dur("retry_in", wait).Msg("ticker disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type tickerCommand struct {
	A string `json:"a"`
	V any    `json:"v"`
}

type tickerText struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (t *Ticker) session(ctx context.Context, tokens []uint32) error {
	q := url.Values{}
	q.Set("api_key", t.apiKey)
	q.Set("access_token", t.accessToken)

	conn, resp, err := t.dialer.DialContext(ctx, t.url+"?"+q.Encode(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("ticker handshake %d: %w", resp.StatusCode, broker.ErrAuth)
		}
		return fmt.Errorf("ticker dial: %w", err)
	}
	defer conn.Close()

	for _, cmd := range []tickerCommand{
		{A: "subscribe", V: tokens},
		{A: "mode", V: []any{"ltp", tokens}},
	} {
		_ = conn.SetWriteDeadline(time.Now().Add(tickerWriteTimeout))
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("ticker %s: %w", cmd.A, err)
		}
	}

	t.setConnected(true)
	defer t.setConnected(false)
	t.log.Info().Int("tokens", len(tokens)).Msg("ticker subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(tickerReadTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch mt {
		case websocket.BinaryMessage:
			quotes, err := ParsePackets(msg, time.Now())
			if err != nil {
				t.log.Debug().Err(err).Msg("bad tick frame")
				continue
			}
			if len(quotes) == 0 {
				continue // heartbeat
			}
			t.mu.Lock()
			t.lastTick = time.Now()
			t.mu.Unlock()
			for _, qt := range quotes {
				t.store.Set(qt)
			}
		case websocket.TextMessage:
			var tm tickerText
			if err := json.Unmarshal(msg, &tm); err == nil && tm.Type == "error" {
				t.log.Error().Interface("data", tm.Data).Msg("ticker error")
			}
		}
	}
}

func (t *Ticker) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

// Exchange segments that price in units other than paise.
const (
	segmentCDS = 3
	segmentBCD = 6
)

// ParsePackets decodes a binary tick frame. Only token and last price
// are read, which every packet mode carries in its first eight bytes.
func ParsePackets(b []byte, now time.Time) ([]market.Quote, error) {
	if len(b) < 2 {
		return nil, nil
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	out := make([]market.Quote, 0, n)

	off := 2
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return out, fmt.Errorf("packet %d: truncated length", i)
		}
		size := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+size > len(b) {
			return out, fmt.Errorf("packet %d: truncated body", i)
		}
		pkt := b[off : off+size]
		off += size

		if len(pkt) < 8 {
			continue
		}
		token := binary.BigEndian.Uint32(pkt[0:4])
		raw := int32(binary.BigEndian.Uint32(pkt[4:8]))

		divisor := 100.0
		switch token & 0xff {
		case segmentCDS:
			divisor = 10_000_000
		case segmentBCD:
			divisor = 10_000
		}

		out = append(out, market.Quote{
			Token: token,
			Time:  now,
			Last:  float64(raw) / divisor,
		})
	}
	return out, nil
}
