package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/logger"
)

// Sink delivers a batch of alerts to an external destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alerts []Alert) error
}

// Observer is notified of dispatch outcomes. Telemetry implements it.
type Observer interface {
	AlertDispatched(a Alert)
	AlertSuppressed(a Alert)
	SinkFailed(sink string)
}

type Sender struct {
	cfg      Config
	sink     Sink
	log      logger.Logger
	now      func() time.Time
	observer Observer

	mu       sync.Mutex
	lastSent map[key]time.Time
	history  *History
	sent     int
}

type SenderOption func(*Sender)

func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		s.now = now
	}
}

func WithObserver(o Observer) SenderOption {
	return func(s *Sender) {
		s.observer = o
	}
}

// NewSender dispatches to sink. A nil sink only records history.
func NewSender(cfg Config, sink Sink, log logger.Logger, opts ...SenderOption) *Sender {
	s := &Sender{
		cfg:      cfg,
		sink:     sink,
		log:      log.With("alert"),
		now:      time.Now,
		lastSent: make(map[key]time.Time),
		history:  NewHistory(cfg.HistorySize, cfg.HistoryMaxAge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send drops alerts whose type, metric and severity were already dispatched
// within the cooldown, records the rest and forwards them to the sink. Sink
// failures are logged and never returned. It returns the dispatched alerts.
func (s *Sender) Send(ctx context.Context, alerts []Alert) []Alert {
	if !s.cfg.Enabled || len(alerts) == 0 {
		return nil
	}

	now := s.now()

	s.mu.Lock()
	dispatch := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		k := a.key()
		if last, ok := s.lastSent[k]; ok && now.Sub(last) < s.cfg.Cooldown {
			s.log.Debug().Str("type", string(a.Type)).Str("metric", string(a.Metric)).
				Str("severity", string(a.Severity)).Msg("Alert suppressed by cooldown")
			if s.observer != nil {
				s.observer.AlertSuppressed(a)
			}
			continue
		}
		s.lastSent[k] = now
		s.history.Add(a, now)
		s.sent++
		dispatch = append(dispatch, a)
	}
	s.mu.Unlock()

	if len(dispatch) == 0 {
		return dispatch
	}
	if s.observer != nil {
		for _, a := range dispatch {
			s.observer.AlertDispatched(a)
		}
	}

	s.deliver(ctx, dispatch)

	return dispatch
}

func (s *Sender) deliver(ctx context.Context, alerts []Alert) {
	if s.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
	defer cancel()

	if err := s.sink.Deliver(ctx, alerts); err != nil {
		errFactory := errors.New()
		s.log.ErrorWithCode(errFactory.Wrap(errors.ErrSinkFailed, err)).
			Str("sink", s.sink.Name()).Int("alerts", len(alerts)).Msg("Alert dispatch failed")
		if s.observer != nil {
			s.observer.SinkFailed(s.sink.Name())
		}
	}
}

// History returns copies of the retained alerts, oldest first.
func (s *Sender) History() []Alert {
	return s.history.Entries(s.now())
}

// Count returns the number of alerts dispatched since the last Clear.
func (s *Sender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Clear forgets the history and every cooldown.
func (s *Sender) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Clear()
	s.lastSent = make(map[key]time.Time)
	s.sent = 0
}

// Format renders a as a single line.
func Format(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Severity)), a.Message)
	if a.Route != "" && !strings.Contains(a.Message, a.Route) {
		fmt.Fprintf(&b, " (route %s)", a.Route)
	}
	return b.String()
}
