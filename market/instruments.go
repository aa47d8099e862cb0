package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

func (o OptionType) Valid() bool { return o == Call || o == Put }

// Instrument is one row of the broker's instrument master.
type Instrument struct {
	Token    uint32
	Symbol   string // tradingsymbol, e.g. SENSEX2561081500CE
	Name     string // underlying, e.g. SENSEX
	Exchange string
	Segment  string
	Expiry   time.Time
	Strike   float64
	Type     OptionType // empty for the index itself
	LotSize  int
	TickSize float64
}

// Key is the exchange-qualified symbol used by quote endpoints.
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}

// OptionChain indexes the option rows of a single underlying.
type OptionChain struct {
	Underlying string
	byExpiry   map[string][]Instrument
	expiries   []time.Time
}

const dateKey = "2006-01-02"

// NewOptionChain keeps only CE/PE rows whose Name matches underlying.
func NewOptionChain(underlying string, rows []Instrument) *OptionChain {
	oc := &OptionChain{
		Underlying: underlying,
		byExpiry:   make(map[string][]Instrument),
	}
	for _, r := range rows {
		if !strings.EqualFold(r.Name, underlying) || !r.Type.Valid() || r.Expiry.IsZero() {
			continue
		}
		k := r.Expiry.Format(dateKey)
		if _, ok := oc.byExpiry[k]; !ok {
			oc.expiries = append(oc.expiries, r.Expiry)
		}
		oc.byExpiry[k] = append(oc.byExpiry[k], r)
	}
	sort.Slice(oc.expiries, func(i, j int) bool { return oc.expiries[i].Before(oc.expiries[j]) })
	return oc
}

func (oc *OptionChain) Len() int {
	n := 0
	for _, rows := range oc.byExpiry {
		n += len(rows)
	}
	return n
}

// NearestExpiry returns the first expiry on or after the calendar day of now.
func (oc *OptionChain) NearestExpiry(now time.Time) (time.Time, error) {
	today := now.Format(dateKey)
	for _, e := range oc.expiries {
		if e.Format(dateKey) >= today {
			return e, nil
		}
	}
	return time.Time{}, fmt.Errorf("no %s expiry on or after %s", oc.Underlying, today)
}

// Lookup finds the contract for an expiry, strike and side.
func (oc *OptionChain) Lookup(expiry time.Time, strike float64, typ OptionType) (Instrument, error) {
	for _, r := range oc.byExpiry[expiry.Format(dateKey)] {
		if r.Strike == strike && r.Type == typ {
			return r, nil
		}
	}
	return Instrument{}, fmt.Errorf("no %s %s %.0f%s contract", oc.Underlying, expiry.Format(dateKey), strike, typ)
}

// Weekly resolves the ATM contract in the nearest expiry.
func (oc *OptionChain) Weekly(now time.Time, strike float64, typ OptionType) (Instrument, error) {
	exp, err := oc.NearestExpiry(now)
	if err != nil {
		return Instrument{}, err
	}
	return oc.Lookup(exp, strike, typ)
}
