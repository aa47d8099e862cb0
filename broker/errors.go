package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrAuth        = errors.New("broker: authentication failed")
	ErrRateLimited = errors.New("broker: rate limited")
	ErrTransient   = errors.New("broker: transient failure")
	ErrRejected    = errors.New("broker: order rejected")
	ErrNoData      = errors.New("broker: no data")
	ErrCircuitOpen = errors.New("broker: circuit breaker open")

	// ErrUnprotected means the entry filled but a stop or target leg
	// could not be placed. The returned fill is valid.
	ErrUnprotected = errors.New("broker: entry filled without protection")

	// ErrOrderPending means a market order was accepted but neither a
	// fill nor a cancel could be confirmed. The returned fill carries
	// the order id; the order must not be placed again.
	ErrOrderPending = errors.New("broker: order accepted but unconfirmed")

	// ErrNotFilled is returned by an exit when the entry never filled
	// and was cancelled instead. Nothing was sold.
	ErrNotFilled = errors.New("broker: entry never filled")

	// ErrLegOpen means a position closed but a protective leg could not
	// be cancelled and may still be resting at the exchange.
	ErrLegOpen = errors.New("broker: protective leg still open")
)

// APIError is a non-success response from a broker HTTP API.
type APIError struct {
	Status  int
	Type    string // broker error class, e.g. TokenException
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("broker api %d %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("broker api %d: %s", e.Status, e.Message)
}

// Unwrap maps the response onto the sentinel errors so callers can use
// errors.Is without knowing the broker.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || e.Type == "TokenException":
		return ErrAuth
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500 || e.Type == "NetworkException":
		return ErrTransient
	case e.Type == "OrderException" || e.Type == "InputException" || e.Type == "MarginException":
		return ErrRejected
	}
	return nil
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrAuth) || errors.Is(err, ErrRejected) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// IsFatal reports errors that stop the trading loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
