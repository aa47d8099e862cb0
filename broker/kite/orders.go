package kite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/optbot/broker"
)

// Order types used by the bot.
const (
	orderMarket = "MARKET"
	orderLimit  = "LIMIT"
	orderSLM    = "SL-M"
)

// Defaults for Client.PollInterval and Client.FillTimeout.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultFillTimeout  = 15 * time.Second
)

type orderParams struct {
	Exchange        string
	Symbol          string
	TransactionType string
	OrderType       string
	Quantity        int
	Price           float64
	TriggerPrice    float64
	Tag             string
}

func (c *Client) placeOrder(ctx context.Context, p orderParams) (string, error) {
	form := url.Values{}
	form.Set("exchange", p.Exchange)
	form.Set("tradingsymbol", p.Symbol)
	form.Set("transaction_type", p.TransactionType)
	form.Set("order_type", p.OrderType)
	form.Set("quantity", strconv.Itoa(p.Quantity))
	form.Set("product", c.Product)
	form.Set("validity", "DAY")
	if p.Price > 0 {
		form.Set("price", strconv.FormatFloat(p.Price, 'f', 2, 64))
	}
	if p.TriggerPrice > 0 {
		form.Set("trigger_price", strconv.FormatFloat(p.TriggerPrice, 'f', 2, 64))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}

	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/regular", nil, form, &out); err != nil {
		return "", fmt.Errorf("place %s %s %s: %w", p.OrderType, p.TransactionType, p.Symbol, err)
	}
	return out.OrderID, nil
}

// CancelOrder cancels an open regular order.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/orders/regular/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

type orderState struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	StatusMessage  string  `json:"status_message"`
	AveragePrice   float64 `json:"average_price"`
	FilledQuantity int     `json:"filled_quantity"`
	OrderTimestamp string  `json:"order_timestamp"`
}

// Order returns the latest state from the order's history.
func (c *Client) Order(ctx context.Context, id string) (broker.OrderStatus, error) {
	var hist []orderState
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &hist); err != nil {
		return broker.OrderStatus{}, fmt.Errorf("order %s: %w", id, err)
	}
	if len(hist) == 0 {
		return broker.OrderStatus{}, fmt.Errorf("order %s: %w", id, broker.ErrNoData)
	}
	st := hist[len(hist)-1]
	if st.OrderID == "" {
		st.OrderID = id
	}
	return broker.OrderStatus{
		OrderID:  st.OrderID,
		Status:   st.Status,
		Message:  st.StatusMessage,
		Price:    st.AveragePrice,
		Quantity: st.FilledQuantity,
		Time:     c.fillTime(st),
	}, nil
}

func (c *Client) pollEvery() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c *Client) fillWait() time.Duration {
	if c.FillTimeout > 0 {
		return c.FillTimeout
	}
	return DefaultFillTimeout
}

// waitFill polls until the order completes or is rejected. Transient
// read failures, rate limits included, are polled through until the
// fill timeout.
func (c *Client) waitFill(ctx context.Context, id string) (broker.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fillWait())
	defer cancel()

	var last broker.OrderStatus
	var lastErr error
	for {
		st, err := c.Order(ctx, id)
		switch {
		case err == nil:
			last, lastErr = st, nil
			if st.Filled() {
				return st, nil
			}
			if st.Done() {
				return st, fmt.Errorf("order %s %s: %s: %w", id, st.Status, st.Message, broker.ErrRejected)
			}
		case broker.IsTransient(err) || errors.Is(err, broker.ErrNoData):
			lastErr = err
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return last, fmt.Errorf("order %s unconfirmed: %v: %w", id, lastErr, broker.ErrTransient)
			}
			return last, fmt.Errorf("order %s still %s: %w", id, last.Status, broker.ErrTransient)
		case <-time.After(c.pollEvery()):
		}
	}
}

// settle resolves an accepted market order that was not seen to fill.
// It cancels the order and reads it back; a fill that raced the cancel
// counts as a fill. The caller's cancellation is ignored so an order is
// never left unresolved by a shutdown.
func (c *Client) settle(ctx context.Context, id string, cause error) (broker.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillWait())
	defer cancel()

	cerr := c.CancelOrder(ctx, id)
	for {
		st, err := c.Order(ctx, id)
		if err == nil {
			if st.Filled() {
				return st, nil
			}
			if st.Done() {
				return st, fmt.Errorf("order %s %s after %v: %w", id, st.Status, cause, broker.ErrRejected)
			}
		}

		select {
		case <-ctx.Done():
			return st, fmt.Errorf("order %s: %v (cancel: %v): %w", id, cause, cerr, broker.ErrOrderPending)
		case <-time.After(c.pollEvery()):
		}
	}
}

// marketFill waits for a market order and settles it if the wait fails.
func (c *Client) marketFill(ctx context.Context, id string) (broker.OrderStatus, error) {
	st, err := c.waitFill(ctx, id)
	if err != nil && !errors.Is(err, broker.ErrRejected) {
		return c.settle(ctx, id, err)
	}
	return st, err
}

func (c *Client) fillTime(st orderState) time.Time {
	if t, err := time.ParseInLocation(timestampLayout, st.OrderTimestamp, c.loc); err == nil {
		return t
	}
	return time.Now()
}

func withStatus(f broker.OrderFill, st broker.OrderStatus) broker.OrderFill {
	f.OrderID = st.OrderID
	f.Price = st.Price
	f.Time = st.Time
	return f
}

// PlaceBracketOrder buys at market, waits for the fill, then places a
// SL-M stop and a LIMIT target for the same quantity. Once the entry is
// accepted the returned fill always carries its order id.
func (c *Client) PlaceBracketOrder(ctx context.Context, req broker.BracketOrderRequest) (broker.OrderFill, error) {
	if req.Quantity <= 0 {
		return broker.OrderFill{}, fmt.Errorf("quantity must be positive: %w", broker.ErrRejected)
	}

	id, err := c.placeOrder(ctx, orderParams{
		Exchange:        req.Exchange,
		Symbol:          req.Symbol,
		TransactionType: "BUY",
		OrderType:       orderMarket,
		Quantity:        req.Quantity,
		Tag:             req.Tag,
	})
	if err != nil {
		return broker.OrderFill{}, err
	}

	fill := broker.OrderFill{
		OrderID:  id,
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
	}
	st, err := c.marketFill(ctx, id)
	if err != nil {
		return fill, err
	}
	fill = withStatus(fill, st)

	var legErrs []error
	if req.StopLoss > 0 {
		fill.StopOrderID, err = c.placeOrder(ctx, orderParams{
			Exchange: req.Exchange, Symbol: req.Symbol, TransactionType: "SELL",
			OrderType: orderSLM, Quantity: req.Quantity, TriggerPrice: req.StopLoss, Tag: req.Tag,
		})
		if err != nil {
			legErrs = append(legErrs, fmt.Errorf("stop leg: %v", err))
		}
	}
	if req.Target > 0 {
		fill.TargetOrderID, err = c.placeOrder(ctx, orderParams{
			Exchange: req.Exchange, Symbol: req.Symbol, TransactionType: "SELL",
			OrderType: orderLimit, Quantity: req.Quantity, Price: req.Target, Tag: req.Tag,
		})
		if err != nil {
			legErrs = append(legErrs, fmt.Errorf("target leg: %v", err))
		}
	}
	if len(legErrs) > 0 {
		return fill, fmt.Errorf("%w: %v", broker.ErrUnprotected, errors.Join(legErrs...))
	}
	return fill, nil
}

// cancelLeg cancels a protective leg. A leg that is already cancelled or
// rejected needs nothing.
func (c *Client) cancelLeg(ctx context.Context, id string) error {
	err := c.CancelOrder(ctx, id)
	if err == nil {
		return nil
	}
	if st, serr := c.Order(ctx, id); serr == nil && st.Done() {
		return nil
	}
	return err
}

// ExitPosition closes a bracket. If the stop or target already
// executed that fill is the exit; otherwise both legs are cancelled and
// the quantity is sold at market.
func (c *Client) ExitPosition(ctx context.Context, req broker.ExitRequest) (broker.OrderFill, error) {
	fill := broker.OrderFill{
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
	}

	if req.ExitOrderID != "" {
		st, err := c.Order(ctx, req.ExitOrderID)
		if err != nil {
			return fill, fmt.Errorf("earlier exit: %w", err)
		}
		if st.Filled() {
			return withStatus(fill, st), nil
		}
		if !st.Done() {
			fill.OrderID = req.ExitOrderID
			return fill, fmt.Errorf("exit order %s still %s: %w", req.ExitOrderID, st.Status, broker.ErrOrderPending)
		}
	}

	legs := [2]string{req.StopOrderID, req.TargetOrderID}
	var live []string
	for i, leg := range legs {
		if leg == "" {
			continue
		}
		st, err := c.Order(ctx, leg)
		if err != nil {
			return fill, fmt.Errorf("leg %s: %w", leg, err)
		}
		if st.Filled() {
			fill = withStatus(fill, st)
			if other := legs[1-i]; other != "" {
				if err := c.cancelLeg(ctx, other); err != nil {
					return fill, fmt.Errorf("leg %s filled, cancel %s: %v: %w", leg, other, err, broker.ErrLegOpen)
				}
			}
			return fill, nil
		}
		if !st.Done() {
			live = append(live, leg)
		}
	}

	if req.StopOrderID == "" && req.TargetOrderID == "" && req.EntryOrderID != "" {
		st, err := c.Order(ctx, req.EntryOrderID)
		if err != nil {
			return fill, fmt.Errorf("entry %s: %w", req.EntryOrderID, err)
		}
		if !st.Filled() {
			if _, err := c.settle(ctx, req.EntryOrderID, fmt.Errorf("exit while entry %s", st.Status)); err != nil {
				if errors.Is(err, broker.ErrRejected) {
					fill.OrderID = req.EntryOrderID
					return fill, fmt.Errorf("%v: %w", err, broker.ErrNotFilled)
				}
				return fill, fmt.Errorf("entry %s unresolved: %v: %w", req.EntryOrderID, err, broker.ErrTransient)
			}
		}
	}

	for _, leg := range live {
		if err := c.cancelLeg(ctx, leg); err != nil {
			return fill, fmt.Errorf("cancel leg %s: %w", leg, err)
		}
	}

	id, err := c.placeOrder(ctx, orderParams{
		Exchange:        req.Exchange,
		Symbol:          req.Symbol,
		TransactionType: "SELL",
		OrderType:       orderMarket,
		Quantity:        req.Quantity,
		Tag:             req.Tag,
	})
	if err != nil {
		return fill, err
	}
	st, err := c.marketFill(ctx, id)
	if err != nil {
		if errors.Is(err, broker.ErrOrderPending) {
			fill.OrderID = id
		}
		return fill, err
	}
	return withStatus(fill, st), nil
}

var _ broker.Broker = (*Client)(nil)
