package activity

import (
	"math/rand"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
)

// InputKind distinguishes raw input events.
type InputKind int

const (
	PointerInput InputKind = iota
	KeyInput
)

func (k InputKind) String() string {
	switch k {
	case PointerInput:
		return "pointer"
	case KeyInput:
		return "key"
	default:
		return "unknown"
	}
}

// InputSource is the host environment's raw input stream. Subscribe returns
// a function that removes the handler.
type InputSource interface {
	Subscribe(handler func(InputKind)) (unsubscribe func())
}

// ManualSource delivers events only when Emit is called.
type ManualSource struct {
	mu       sync.Mutex
	handlers map[int]func(InputKind)
	next     int
}

// NewManualSource creates an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{handlers: make(map[int]func(InputKind))}
}

// Subscribe registers a handler.
func (m *ManualSource) Subscribe(handler func(InputKind)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	m.handlers[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// Emit delivers n events of kind to every subscriber.
func (m *ManualSource) Emit(kind InputKind, n int) {
	m.mu.Lock()
	handlers := make([]func(InputKind), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for i := 0; i < n; i++ {
		for _, h := range handlers {
			h(kind)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (m *ManualSource) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// SimulatedSource produces random bursts of input at roughly the configured
// per-minute rates. It stands in for OS-level hooks.
type SimulatedSource struct {
	clock            clock.Clock
	pointerPerMinute int
	keyPerMinute     int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource creates a simulated source.
func NewSimulatedSource(clk clock.Clock, pointerPerMinute, keyPerMinute int, seed int64) *SimulatedSource {
	return &SimulatedSource{
		clock:            clk,
		pointerPerMinute: pointerPerMinute,
		keyPerMinute:     keyPerMinute,
		rng:              rand.New(rand.NewSource(seed)),
	}
}

// Subscribe starts emitting to handler once per second until unsubscribed.
func (s *SimulatedSource) Subscribe(handler func(InputKind)) func() {
	ticker := clock.NewTicker(s.clock, time.Second, func() {
		pointer, key := s.burst()
		for i := 0; i < pointer; i++ {
			handler(PointerInput)
		}
		for i := 0; i < key; i++ {
			handler(KeyInput)
		}
	})
	return ticker.Stop
}

// burst draws one second's worth of events with a long-run mean of rate/60.
func (s *SimulatedSource) burst() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw(s.pointerPerMinute), s.draw(s.keyPerMinute)
}

func (s *SimulatedSource) draw(perMinute int) int {
	if perMinute <= 0 {
		return 0
	}
	total := s.rng.Intn(2*perMinute + 1)
	n := total / 60
	if s.rng.Intn(60) < total%60 {
		n++
	}
	return n
}
