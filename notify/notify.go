// Package notify delivers operator alerts. Delivery failures are logged
// and never reach the trading loop.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindStart       Kind = "start"
	KindStop        Kind = "stop"
	KindSignal      Kind = "signal"
	KindTradeOpen   Kind = "trade_open"
	KindTradeClose  Kind = "trade_close"
	KindRisk        Kind = "risk"
	KindHalt        Kind = "halt"
	KindDayReset    Kind = "day_reset"
	KindDailyReport Kind = "daily_report"
	KindError       Kind = "error"
	KindInfo        Kind = "info"
)

// Message is an HTML-formatted alert. Title is rendered bold.
type Message struct {
	Kind  Kind
	Title string
	Body  string
	Time  time.Time
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
	Name() string
	Enabled() bool
}

var metricSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "optbot_notifications_total",
	Help: "Notifications by kind and outcome",
}, []string{"kind", "result"})

func init() {
	prometheus.MustRegister(metricSent)
}

// Manager fans a message out to every enabled notifier.
type Manager struct {
	notifiers []Notifier
	timeout   time.Duration
	log       zerolog.Logger
}

func NewManager(log zerolog.Logger, ns ...Notifier) *Manager {
	return &Manager{
		notifiers: ns,
		timeout:   10 * time.Second,
		log:       log.With().Str("component", "notify").Logger(),
	}
}

func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Enabled reports whether at least one notifier will deliver.
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.Enabled() {
			return true
		}
	}
	return false
}

func (m *Manager) Send(ctx context.Context, msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := n.Send(sctx, msg)
		cancel()
		if err != nil {
			metricSent.WithLabelValues(string(msg.Kind), "error").Inc()
			m.log.Warn().Err(err).Str("notifier", n.Name()).Str("kind", string(msg.Kind)).Msg("notification failed")
			continue
		}
		metricSent.WithLabelValues(string(msg.Kind), "ok").Inc()
	}
}

// Recorder keeps messages in memory. The CLI uses it for dry runs.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Send(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *Recorder) Name() string  { return "recorder" }
func (r *Recorder) Enabled() bool { return true }

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Kinds lists the kinds sent, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Kind
	}
	return out
}
