package collector

import (
	"sync"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

// Measurement is one value reported by a source. Measurements without a
// Metric only carry page context (resources, device, connection).
type Measurement struct {
	Route      string
	Metric     vitals.Metric
	Value      float64
	Page       vitals.Page
	Device     *vitals.Device
	Connection *vitals.Connection
	Resources  *vitals.ResourceTiming
	Timestamp  int64
}

// Source delivers measurements to a single handler. Subscribe returns an
// error with code ErrUnsupported when the source cannot observe anything in
// the current environment. After Stop returns the handler is not called.
type Source interface {
	Subscribe(handler func(Measurement)) error
	Stop()
}

// ChannelSource forwards measurements read from a channel.
type ChannelSource struct {
	ch <-chan Measurement

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func NewChannelSource(ch <-chan Measurement) *ChannelSource {
	return &ChannelSource{ch: ch}
}

func (s *ChannelSource) Subscribe(handler func(Measurement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return errors.New().WithMessage(errors.ErrUnsupported, "channel source has no channel")
	}
	if s.done != nil {
		return nil
	}

	done := make(chan struct{})
	s.done = done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-done:
				return
			case m, ok := <-s.ch:
				if !ok {
					return
				}
				handler(m)
			}
		}
	}()

	return nil
}

func (s *ChannelSource) Stop() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
		s.wg.Wait()
	}
}

// FuncSource hands its handler to a function so callers can push
// measurements synchronously.
type FuncSource struct {
	mu      sync.Mutex
	handler func(Measurement)
}

func (s *FuncSource) Subscribe(handler func(Measurement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return nil
}

func (s *FuncSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
}

// Emit delivers m to the subscribed handler. It reports false when nothing
// is subscribed.
func (s *FuncSource) Emit(m Measurement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler == nil {
		return false
	}
	s.handler(m)
	return true
}
