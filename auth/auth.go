// Package auth reads the broker access token written by the daily
// login flow and stores tokens entered by hand.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNoToken means a source holds no token.
var ErrNoToken = errors.New("auth: no access token")

// SessionResetHour is when the broker invalidates the previous day's
// tokens, in exchange local time.
const SessionResetHour = 6

type Token struct {
	Value    string
	IssuedAt time.Time
}

// Masked is safe to log.
func (t Token) Masked() string {
	if len(t.Value) <= 6 {
		return "***"
	}
	return t.Value[:6] + "..."
}

// Expired reports whether the token was issued before the most recent
// session reset at now. A token with no issue time is assumed valid.
func (t Token) Expired(now time.Time, loc *time.Location) bool {
	if t.IssuedAt.IsZero() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	reset := time.Date(n.Year(), n.Month(), n.Day(), SessionResetHour, 0, 0, 0, loc)
	if n.Before(reset) {
		reset = reset.AddDate(0, 0, -1)
	}
	return t.IssuedAt.Before(reset)
}

type Source interface {
	Load(ctx context.Context) (Token, error)
}

type Store interface {
	Source
	Save(ctx context.Context, t Token) error
}

// Static serves a fixed token, e.g. from KITE_ACCESS_TOKEN.
type Static string

func (s Static) Load(ctx context.Context) (Token, error) {
	if s == "" {
		return Token{}, ErrNoToken
	}
	return Token{Value: string(s)}, nil
}

// Chain tries each source in order and returns the first token found.
type Chain []Source

func (c Chain) Load(ctx context.Context) (Token, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		t, err := s.Load(ctx)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return Token{}, err
		}
	}
	return Token{}, ErrNoToken
}
