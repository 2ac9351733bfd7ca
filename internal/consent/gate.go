package consent

import (
	"sync"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

// Gate guards every monitoring side effect. It changes only on explicit
// Grant/Revoke calls; there is no expiry.
type Gate struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	record   model.ConsentRecord
	nextHook int
	onRevoke []revokeHook
	onChange []changeHook
}

type revokeHook struct {
	id int
	fn func()
}

type changeHook struct {
	id int
	fn func(model.ConsentRecord)
}

// NewGate returns a gate in the Unset state.
func NewGate(clk clock.Clock, logger zerolog.Logger) *Gate {
	return &Gate{
		clock:  clk,
		logger: logger.With().Str("component", "consent").Logger(),
		record: model.ConsentRecord{State: model.ConsentUnset},
	}
}

// Granted reports whether monitoring is currently allowed.
func (g *Gate) Granted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record.State == model.ConsentGranted
}

// State returns the current gate state.
func (g *Gate) State() model.ConsentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record.State
}

// Record returns the current state with its provenance.
func (g *Gate) Record() model.ConsentRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record
}

// Restore loads a previously persisted record without running any hooks.
// Only meaningful before monitoring has started.
func (g *Gate) Restore(rec model.ConsentRecord) {
	switch rec.State {
	case model.ConsentGranted, model.ConsentDenied:
	default:
		rec = model.ConsentRecord{State: model.ConsentUnset}
	}

	g.mu.Lock()
	g.record = rec
	g.mu.Unlock()

	g.logger.Debug().
		Str("state", string(rec.State)).
		Str("source", rec.Source).
		Msg("Consent restored")
}

// OnRevoke registers fn to run synchronously inside every Revoke call,
// before Revoke returns. The returned function removes the hook.
func (g *Gate) OnRevoke(fn func()) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextHook
	g.nextHook++
	g.onRevoke = append(g.onRevoke, revokeHook{id: id, fn: fn})

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, h := range g.onRevoke {
			if h.id == id {
				g.onRevoke = append(g.onRevoke[:i:i], g.onRevoke[i+1:]...)
				return
			}
		}
	}
}

// OnChange registers fn to run after every Grant or Revoke. The returned
// function removes the hook.
func (g *Gate) OnChange(fn func(model.ConsentRecord)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextHook
	g.nextHook++
	g.onChange = append(g.onChange, changeHook{id: id, fn: fn})

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, h := range g.onChange {
			if h.id == id {
				g.onChange = append(g.onChange[:i:i], g.onChange[i+1:]...)
				return
			}
		}
	}
}

// Hooks returns the number of registered revoke and change hooks.
func (g *Gate) Hooks() (revoke, change int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.onRevoke), len(g.onChange)
}

// Grant opens the gate.
func (g *Gate) Grant(source string) model.ConsentRecord {
	rec, _, changes := g.set(model.ConsentGranted, source)
	for _, fn := range changes {
		fn(rec)
	}
	return rec
}

// Revoke closes the gate. Every OnRevoke hook has run when Revoke returns.
func (g *Gate) Revoke(source string) model.ConsentRecord {
	rec, revokes, changes := g.set(model.ConsentDenied, source)
	for _, fn := range revokes {
		fn()
	}
	for _, fn := range changes {
		fn(rec)
	}
	return rec
}

func (g *Gate) set(state model.ConsentState, source string) (model.ConsentRecord, []func(), []func(model.ConsentRecord)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	previous := g.record.State
	g.record = model.ConsentRecord{
		State:     state,
		Source:    source,
		ChangedAt: g.clock.Now(),
	}

	metrics.ConsentChangesTotal.WithLabelValues(string(state)).Inc()
	g.logger.Info().
		Str("from", string(previous)).
		Str("to", string(state)).
		Str("source", source).
		Msg("Consent changed")

	revokes := make([]func(), 0, len(g.onRevoke))
	for _, h := range g.onRevoke {
		revokes = append(revokes, h.fn)
	}
	changes := make([]func(model.ConsentRecord), 0, len(g.onChange))
	for _, h := range g.onChange {
		changes = append(changes, h.fn)
	}
	return g.record, revokes, changes
}
