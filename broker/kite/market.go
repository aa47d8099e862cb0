package kite

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/market"
)

const (
	timestampLayout  = "2006-01-02 15:04:05"
	candleTimeLayout = "2006-01-02T15:04:05-0700"
	expiryLayout     = "2006-01-02"
)

type depthLevel struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type quoteData struct {
	InstrumentToken uint32  `json:"instrument_token"`
	Timestamp       string  `json:"timestamp"`
	LastPrice       float64 `json:"last_price"`
	Depth           struct {
		Buy  []depthLevel `json:"buy"`
		Sell []depthLevel `json:"sell"`
	} `json:"depth"`
}

// Quote fetches a full quote for one exchange-qualified instrument.
func (c *Client) Quote(ctx context.Context, instrument string) (market.Quote, error) {
	q := url.Values{}
	q.Add("i", instrument)

	var data map[string]quoteData
	if err := c.do(ctx, http.MethodGet, "/quote", q, nil, &data); err != nil {
		return market.Quote{}, err
	}
	d, ok := data[instrument]
	if !ok {
		return market.Quote{}, fmt.Errorf("quote %s: %w", instrument, broker.ErrNoData)
	}

	out := market.Quote{
		Instrument: instrument,
		Token:      d.InstrumentToken,
		Last:       d.LastPrice,
		Time:       time.Now(),
	}
	if d.Timestamp != "" {
		if t, err := time.ParseInLocation(timestampLayout, d.Timestamp, c.loc); err == nil {
			out.Time = t
		}
	}
	if len(d.Depth.Buy) > 0 {
		out.Bid = d.Depth.Buy[0].Price
	}
	if len(d.Depth.Sell) > 0 {
		out.Ask = d.Depth.Sell[0].Price
	}
	return out, nil
}

type historicalResponse struct {
	Candles [][]any `json:"candles"`
}

// Candles fetches historical OHLCV bars, oldest first.
func (c *Client) Candles(ctx context.Context, req broker.CandlesRequest) ([]market.Candle, error) {
	if req.Token == 0 {
		return nil, fmt.Errorf("instrument token is required")
	}
	if req.Interval == "" {
		req.Interval = "3minute"
	}

	q := url.Values{}
	q.Set("from", req.From.In(c.loc).Format(timestampLayout))
	q.Set("to", req.To.In(c.loc).Format(timestampLayout))

	path := fmt.Sprintf("/instruments/historical/%d/%s", req.Token, req.Interval)
	var hr historicalResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &hr); err != nil {
		return nil, err
	}
	if len(hr.Candles) == 0 {
		return nil, fmt.Errorf("candles %d: %w", req.Token, broker.ErrNoData)
	}

	candles := make([]market.Candle, 0, len(hr.Candles))
	for i, row := range hr.Candles {
		cd, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

func parseCandle(row []any) (market.Candle, error) {
	if len(row) < 5 {
		return market.Candle{}, fmt.Errorf("short row (%d fields)", len(row))
	}
	ts, ok := row[0].(string)
	if !ok {
		return market.Candle{}, fmt.Errorf("bad timestamp %v", row[0])
	}
	t, err := time.Parse(candleTimeLayout, ts)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse time %s: %w", ts, err)
	}

	vals := make([]float64, 5)
	for i := 1; i < len(row) && i <= 5; i++ {
		f, ok := row[i].(float64)
		if !ok {
			return market.Candle{}, fmt.Errorf("field %d: not a number", i)
		}
		vals[i-1] = f
	}
	return market.Candle{
		Time:   t,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// Instruments downloads the instrument master for one exchange (e.g. BFO).
func (c *Client) Instruments(ctx context.Context, exchange string) ([]market.Instrument, error) {
	b, err := c.getRaw(ctx, "/instruments/"+url.PathEscape(exchange))
	if err != nil {
		return nil, err
	}
	return ParseInstruments(bytes.NewReader(b), c.loc)
}

// ParseInstruments reads the instrument master CSV dump.
func ParseInstruments(r io.Reader, loc *time.Location) ([]market.Instrument, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, need := range []string{"instrument_token", "tradingsymbol", "name", "expiry", "strike", "tick_size", "lot_size", "instrument_type", "segment", "exchange"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("instruments csv: missing column %q", need)
		}
	}

	var out []market.Instrument
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		tok, err := strconv.ParseUint(rec[col["instrument_token"]], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: token: %w", line, err)
		}
		strike, _ := strconv.ParseFloat(rec[col["strike"]], 64)
		tick, _ := strconv.ParseFloat(rec[col["tick_size"]], 64)
		lot, _ := strconv.Atoi(rec[col["lot_size"]])

		in := market.Instrument{
			Token:    uint32(tok),
			Symbol:   rec[col["tradingsymbol"]],
			Name:     strings.Trim(rec[col["name"]], `"`),
			Exchange: rec[col["exchange"]],
			Segment:  rec[col["segment"]],
			Strike:   strike,
			LotSize:  lot,
			TickSize: tick,
		}
		if typ := market.OptionType(rec[col["instrument_type"]]); typ.Valid() {
			in.Type = typ
		}
		if e := rec[col["expiry"]]; e != "" {
			t, err := time.ParseInLocation(expiryLayout, e, loc)
			if err != nil {
				return nil, fmt.Errorf("line %d: expiry: %w", line, err)
			}
			in.Expiry = t
		}
		out = append(out, in)
	}
	return out, nil
}
