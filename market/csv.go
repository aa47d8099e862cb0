package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var candleTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// CandleCSV streams candles from a file with columns
// time,open,high,low,close[,volume]. A header row is allowed. Times
// without an offset are read in loc.
type CandleCSV struct {
	f   *os.File
	r   *csv.Reader
	loc *time.Location

	line     int
	sawFirst bool
}

func OpenCandleCSV(path string, loc *time.Location) (*CandleCSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newCandleCSV(f, f, loc), nil
}

func newCandleCSV(rd io.Reader, f *os.File, loc *time.Location) *CandleCSV {
	if loc == nil {
		loc = time.UTC
	}
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return &CandleCSV{f: f, r: r, loc: loc}
}

func (c *CandleCSV) Close() error {
	if c.f != nil {
		return c.f.Close()
	}
	return nil
}

// Next returns the next candle; ok is false at EOF.
func (c *CandleCSV) Next() (Candle, bool, error) {
	for {
		row, err := c.r.Read()
		if err == io.EOF {
			return Candle{}, false, nil
		}
		if err != nil {
			return Candle{}, false, err
		}
		c.line++
		if len(row) == 0 {
			continue
		}

		if !c.sawFirst {
			c.sawFirst = true
			h := strings.ToLower(strings.TrimSpace(row[0]))
			if h == "time" || h == "date" || h == "timestamp" {
				continue
			}
		}

		if len(row) < 5 {
			return Candle{}, false, fmt.Errorf("line %d: want at least 5 columns, got %d", c.line, len(row))
		}
		cd, err := parseCandleRow(row, c.loc)
		if err != nil {
			return Candle{}, false, fmt.Errorf("line %d: %w", c.line, err)
		}
		return cd, true, nil
	}
}

// ReadCandles drains r into memory.
func ReadCandles(r io.Reader, loc *time.Location) ([]Candle, error) {
	src := newCandleCSV(r, nil, loc)
	var out []Candle
	for {
		cd, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, cd)
	}
}

func parseCandleRow(row []string, loc *time.Location) (Candle, error) {
	ts, err := parseCandleTime(strings.TrimSpace(row[0]), loc)
	if err != nil {
		return Candle{}, err
	}

	var vals [5]float64
	n := 4
	if len(row) >= 6 {
		n = 5
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}

	return Candle{
		Time:   ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func parseCandleTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range candleTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// WriteCandles writes candles with a header, RFC3339 times.
func WriteCandles(w io.Writer, candles []Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			c.Time.Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', 2, 64),
			strconv.FormatFloat(c.High, 'f', 2, 64),
			strconv.FormatFloat(c.Low, 'f', 2, 64),
			strconv.FormatFloat(c.Close, 'f', 2, 64),
			strconv.FormatFloat(c.Volume, 'f', 0, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
