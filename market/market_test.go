package market

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultZone)
	require.NoError(t, err)
	return loc
}

func TestATMStrike(t *testing.T) {
	t.Parallel()
	loc := ist(t)

	tests := []struct {
		name string
		spot float64
		at   time.Time
		want float64
	}{
		{"morning rounds down", 81549.7, time.Date(2025, 6, 10, 10, 0, 0, 0, loc), 81500},
		{"morning exact", 81500, time.Date(2025, 6, 10, 11, 59, 0, 0, loc), 81500},
		{"afternoon offset", 81549.7, time.Date(2025, 6, 10, 12, 0, 0, 0, loc), 81300},
		{"afternoon crosses hundred", 81680, time.Date(2025, 6, 10, 14, 30, 0, 0, loc), 81500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ATMStrike(tt.spot, tt.at))
		})
	}
}

func TestWeeklySymbol(t *testing.T) {
	t.Parallel()

	exp := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SENSEX2561081500CE", WeeklySymbol("SENSEX", exp, 81500, Call))

	oct := time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SENSEX25O0782000PE", WeeklySymbol("SENSEX", oct, 82000, Put))
}

func TestNextWeekday(t *testing.T) {
	t.Parallel()

	wed := time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), NextWeekday(wed, time.Tuesday))
	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), NextWeekday(wed, time.Wednesday))
}

func TestOptionChain(t *testing.T) {
	t.Parallel()

	e1 := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	e2 := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
	rows := []Instrument{
		{Token: 1, Symbol: "SENSEX2561781500CE", Name: "SENSEX", Expiry: e2, Strike: 81500, Type: Call},
		{Token: 2, Symbol: "SENSEX2561081500CE", Name: "SENSEX", Expiry: e1, Strike: 81500, Type: Call},
		{Token: 3, Symbol: "SENSEX2561081500PE", Name: "SENSEX", Expiry: e1, Strike: 81500, Type: Put},
		{Token: 4, Symbol: "BANKEX2561050000CE", Name: "BANKEX", Expiry: e1, Strike: 50000, Type: Call},
		{Token: 5, Symbol: "SENSEX", Name: "SENSEX"},
	}
	oc := NewOptionChain("SENSEX", rows)
	assert.Equal(t, 3, oc.Len())

	got, err := oc.Weekly(time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC), 81500, Put)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Token)

	// On expiry day the same expiry is still the nearest.
	got, err = oc.Weekly(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC), 81500, Call)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Token)

	got, err = oc.Weekly(time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC), 81500, Call)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Token)

	_, err = oc.Weekly(time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC), 99900, Call)
	assert.Error(t, err)

	_, err = oc.NearestExpiry(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestCalendar(t *testing.T) {
	t.Parallel()
	loc := ist(t)

	cal, err := NewCalendar(DefaultZone, []string{"2025-08-15"})
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"before open", time.Date(2025, 6, 10, 9, 14, 0, 0, loc), false},
		{"at open", time.Date(2025, 6, 10, 9, 15, 0, 0, loc), true},
		{"midday", time.Date(2025, 6, 10, 12, 30, 0, 0, loc), true},
		{"at close", time.Date(2025, 6, 10, 15, 30, 0, 0, loc), true},
		{"after close", time.Date(2025, 6, 10, 15, 31, 0, 0, loc), false},
		{"saturday", time.Date(2025, 6, 14, 11, 0, 0, 0, loc), false},
		{"holiday", time.Date(2025, 8, 15, 11, 0, 0, 0, loc), false},
		{"utc input", time.Date(2025, 6, 10, 4, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, cal.IsOpen(tt.at))
			open, reason := cal.Status(tt.at)
			assert.Equal(t, tt.open, open)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestCalendarTradingDayAndNextOpen(t *testing.T) {
	t.Parallel()
	loc := ist(t)

	cal, err := NewCalendar(DefaultZone, nil)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-09", cal.TradingDay(time.Date(2025, 6, 10, 9, 0, 0, 0, loc)))
	assert.Equal(t, "2025-06-10", cal.TradingDay(time.Date(2025, 6, 10, 9, 15, 0, 0, loc)))

	fri := time.Date(2025, 6, 13, 16, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 16, 9, 15, 0, 0, loc), cal.NextOpen(fri))

	early := time.Date(2025, 6, 10, 8, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 10, 9, 15, 0, 0, loc), cal.NextOpen(early))

	assert.Equal(t, 30*time.Minute, cal.Remaining(time.Date(2025, 6, 10, 15, 0, 0, 0, loc)))
}

func TestCalendarSetSession(t *testing.T) {
	t.Parallel()

	cal, err := NewCalendar(DefaultZone, nil)
	require.NoError(t, err)
	require.NoError(t, cal.SetSession("09:30", "15:00"))
	assert.Equal(t, 9, cal.OpenHour)
	assert.Equal(t, 30, cal.OpenMinute)

	assert.Error(t, cal.SetSession("15:00", "09:30"))
	assert.Error(t, cal.SetSession("bad", "15:00"))

	_, err = NewCalendar(DefaultZone, []string{"15/08/2025"})
	assert.Error(t, err)
}

func TestQuoteStore(t *testing.T) {
	t.Parallel()

	s := NewQuoteStore()
	_, err := s.Get("BSE:SENSEX")
	assert.ErrorIs(t, err, ErrNoQuote)

	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	s.Bind(265, "BSE:SENSEX")
	s.Set(Quote{Token: 265, Last: 81549.7, Time: now})
	s.Set(Quote{Token: 999, Last: 1, Time: now})

	q, err := s.Get("BSE:SENSEX")
	require.NoError(t, err)
	assert.Equal(t, 81549.7, q.Mid())

	_, ok := s.Fresh("BSE:SENSEX", now.Add(5*time.Second), 10*time.Second)
	assert.True(t, ok)
	_, ok = s.Fresh("BSE:SENSEX", now.Add(time.Minute), 10*time.Second)
	assert.False(t, ok)
}

func TestCandleCSVRoundTrip(t *testing.T) {
	t.Parallel()
	loc := ist(t)

	in := `time,open,high,low,close,volume
2025-06-10 09:15:00,81500,81560,81480,81540,0
2025-06-10T09:18:00+05:30,81540,81600,81530,81590,12
`
	candles, err := ReadCandles(strings.NewReader(in), loc)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Time.Equal(time.Date(2025, 6, 10, 9, 15, 0, 0, loc)))
	assert.True(t, candles[0].Green())
	assert.Equal(t, 12.0, candles[1].Volume)
	assert.Equal(t, []float64{81540, 81590}, Closes(candles))

	var buf bytes.Buffer
	require.NoError(t, WriteCandles(&buf, candles))
	again, err := ReadCandles(&buf, loc)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.InDelta(t, candles[1].Close, again[1].Close, 1e-9)

	_, err = ReadCandles(strings.NewReader("2025-06-10 09:15:00,1,2\n"), loc)
	assert.Error(t, err)
}
