package kite

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/market"
)

func frame(packets ...[]byte) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(len(packets)))
	for _, p := range packets {
		l := make([]byte, 2)
		binary.BigEndian.PutUint16(l, uint16(len(p)))
		b = append(b, l...)
		b = append(b, p...)
	}
	return b
}

func ltpPacket(token uint32, paise int32) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[0:4], token)
	binary.BigEndian.PutUint32(p[4:8], uint32(paise))
	return p
}

func TestParsePackets(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 10, 0, 0, 0, ist)

	quotes, err := ParsePackets(frame(ltpPacket(265, 8154025), ltpPacket(281000709, 24550)), now)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, uint32(265), quotes[0].Token)
	assert.InDelta(t, 81540.25, quotes[0].Last, 1e-9)
	assert.InDelta(t, 245.50, quotes[1].Last, 1e-9)
	assert.True(t, quotes[1].Time.Equal(now))

	hb, err := ParsePackets([]byte{0}, now)
	require.NoError(t, err)
	assert.Empty(t, hb)

	// quote-mode packets are longer but start the same way
	long := append(ltpPacket(265, 100), make([]byte, 36)...)
	quotes, err = ParsePackets(frame(long), now)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 1.0, quotes[0].Last, 1e-9)

	_, err = ParsePackets(frame(ltpPacket(265, 100))[:7], now)
	assert.Error(t, err)
}

func TestTickerStreamsIntoStore(t *testing.T) {
	t.Parallel()

	subscribed := make(chan []string, 2)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			subscribed <- []string{string(msg)}
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0})
		_ = conn.WriteMessage(websocket.BinaryMessage, frame(ltpPacket(265, 8154025)))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	store := market.NewQuoteStore()
	store.Bind(265, "BSE:SENSEX")

	tk := NewTicker("key", "tok", store, zerolog.Nop())
	tk.url = "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx, []uint32{265}) }()

	first := <-subscribed
	assert.Contains(t, first[0], `"a":"subscribe"`)
	second := <-subscribed
	assert.Contains(t, second[0], `"ltp"`)

	require.Eventually(t, func() bool {
		q, err := store.Get("BSE:SENSEX")
		return err == nil && q.Last == 81540.25
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, tk.Connected())
	assert.False(t, tk.LastTick().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestTickerAuthFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tk := NewTicker("key", "bad", market.NewQuoteStore(), zerolog.Nop())
	tk.url = "ws" + strings.TrimPrefix(server.URL, "http")

	err := tk.Run(context.Background(), []uint32{265})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrAuth))
}

func TestTickerRequiresTokens(t *testing.T) {
	t.Parallel()

	tk := NewTicker("key", "tok", market.NewQuoteStore(), zerolog.Nop())
	assert.Error(t, tk.Run(context.Background(), nil))
}
