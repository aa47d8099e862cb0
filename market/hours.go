package market

import (
	"fmt"
	"time"
)

// Calendar describes the exchange session: fixed open/close clock times
// in a single location, weekends off, plus explicit holidays.
type Calendar struct {
	Location               *time.Location
	OpenHour, OpenMinute   int
	CloseHour, CloseMinute int
	holidays               map[string]bool
}

// DefaultZone is the exchange time zone.
const DefaultZone = "Asia/Kolkata"

// NewCalendar builds a 09:15 to 15:30 calendar in tz. Holidays use
// YYYY-MM-DD.
func NewCalendar(tz string, holidays []string) (*Calendar, error) {
	if tz == "" {
		tz = DefaultZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", tz, err)
	}

	c := &Calendar{
		Location:    loc,
		OpenHour:    9,
		OpenMinute:  15,
		CloseHour:   15,
		CloseMinute: 30,
		holidays:    make(map[string]bool, len(holidays)),
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation(dateKey, h, loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateKey)] = true
	}
	return c, nil
}

// SetSession overrides the open and close clock times ("HH:MM").
func (c *Calendar) SetSession(open, close string) error {
	o, err := time.Parse("15:04", open)
	if err != nil {
		return fmt.Errorf("session open %q: %w", open, err)
	}
	cl, err := time.Parse("15:04", close)
	if err != nil {
		return fmt.Errorf("session close %q: %w", close, err)
	}
	if !cl.After(o) {
		return fmt.Errorf("session close %s must be after open %s", close, open)
	}
	c.OpenHour, c.OpenMinute = o.Hour(), o.Minute()
	c.CloseHour, c.CloseMinute = cl.Hour(), cl.Minute()
	return nil
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(c.Location).Format(dateKey)]
}

// IsTradingDay is true on weekdays that are not holidays.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.Location)
	if lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(lt)
}

// Open returns the session open on t's local date.
func (c *Calendar) Open(t time.Time) time.Time {
	lt := t.In(c.Location)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.OpenHour, c.OpenMinute, 0, 0, c.Location)
}

// Close returns the session close on t's local date.
func (c *Calendar) Close(t time.Time) time.Time {
	lt := t.In(c.Location)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.CloseHour, c.CloseMinute, 0, 0, c.Location)
}

// IsOpen reports whether t falls inside [open, close] on a trading day.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return !t.Before(c.Open(t)) && !t.After(c.Close(t))
}

// Status explains IsOpen for notifications and the CLI.
func (c *Calendar) Status(t time.Time) (bool, string) {
	lt := t.In(c.Location)
	switch {
	case lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday:
		return false, fmt.Sprintf("market closed: weekend (%s)", lt.Weekday())
	case c.IsHoliday(lt):
		return false, fmt.Sprintf("market closed: holiday (%s)", lt.Format(dateKey))
	case lt.Before(c.Open(lt)):
		return false, fmt.Sprintf("market opens at %s", c.Open(lt).Format("15:04"))
	case lt.After(c.Close(lt)):
		return false, fmt.Sprintf("market closed at %s", c.Close(lt).Format("15:04"))
	}
	return true, fmt.Sprintf("market open (%s)", lt.Format("15:04"))
}

// NextOpen returns the first session open strictly after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	o := c.Open(t)
	if t.Before(o) && c.IsTradingDay(t) {
		return o
	}
	for d := 1; d <= 14; d++ {
		next := c.Open(o.AddDate(0, 0, d))
		if c.IsTradingDay(next) {
			return next
		}
	}
	return c.Open(o.AddDate(0, 0, 15))
}

// TradingDay returns the date key of the session that owns t. Before the
// open, the session still belongs to the previous calendar day so that
// daily counters roll exactly at the open.
func (c *Calendar) TradingDay(t time.Time) string {
	lt := t.In(c.Location)
	if lt.Before(c.Open(lt)) {
		lt = lt.AddDate(0, 0, -1)
	}
	return lt.Format(dateKey)
}

// Remaining is the time left until today's close, or zero if closed.
func (c *Calendar) Remaining(t time.Time) time.Duration {
	if !c.IsOpen(t) {
		return 0
	}
	return c.Close(t).Sub(t)
}
