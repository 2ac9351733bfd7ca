package consent

import (
	"testing"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

func newTestGate() (*Gate, *clock.Fake) {
	fake := clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	return NewGate(fake, zerolog.Nop()), fake
}

func TestGateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		calls []string
		want  model.ConsentState
	}{
		{"initially unset", nil, model.ConsentUnset},
		{"unset to granted", []string{"grant"}, model.ConsentGranted},
		{"unset to denied", []string{"revoke"}, model.ConsentDenied},
		{"granted to denied", []string{"grant", "revoke"}, model.ConsentDenied},
		{"denied to granted", []string{"revoke", "grant"}, model.ConsentGranted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _ := newTestGate()
			for _, call := range tt.calls {
				if call == "grant" {
					gate.Grant("test")
				} else {
					gate.Revoke("test")
				}
			}
			if got := gate.State(); got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
			if gate.Granted() != (tt.want == model.ConsentGranted) {
				t.Errorf("Granted() inconsistent with state %v", tt.want)
			}
		})
	}
}

func TestGateRecordsProvenance(t *testing.T) {
	gate, fake := newTestGate()
	fake.Advance(time.Minute)

	gate.Grant("settings-dialog")
	rec := gate.Record()
	if rec.Source != "settings-dialog" {
		t.Errorf("expected source settings-dialog, got %q", rec.Source)
	}
	if !rec.ChangedAt.Equal(fake.Now()) {
		t.Errorf("expected changed_at %v, got %v", fake.Now(), rec.ChangedAt)
	}
}

func TestRevokeRunsHooksSynchronously(t *testing.T) {
	gate, _ := newTestGate()
	gate.Grant("test")

	stopped := 0
	gate.OnRevoke(func() { stopped++ })
	gate.OnRevoke(func() { stopped++ })

	var changes []model.ConsentState
	gate.OnChange(func(rec model.ConsentRecord) { changes = append(changes, rec.State) })

	gate.Revoke("user")
	if stopped != 2 {
		t.Fatalf("expected both revoke hooks to have run, got %d", stopped)
	}
	if len(changes) != 1 || changes[0] != model.ConsentDenied {
		t.Fatalf("unexpected change notifications %v", changes)
	}

	gate.Grant("user")
	if stopped != 2 {
		t.Fatalf("grant must not run revoke hooks, got %d", stopped)
	}
}

func TestRevokeHookMayReadGate(t *testing.T) {
	gate, _ := newTestGate()
	gate.Grant("test")

	var seen bool
	gate.OnRevoke(func() { seen = gate.Granted() })

	gate.Revoke("test")
	if seen {
		t.Fatal("expected gate to be closed when revoke hooks run")
	}
}

func TestRestoreIgnoresUnknownState(t *testing.T) {
	gate, _ := newTestGate()
	gate.Restore(model.ConsentRecord{State: "maybe"})
	if gate.State() != model.ConsentUnset {
		t.Fatalf("expected unset, got %v", gate.State())
	}

	gate.Restore(model.ConsentRecord{State: model.ConsentGranted, Source: "stored"})
	if !gate.Granted() {
		t.Fatal("expected restored grant")
	}
}

func TestRemovedHooksDoNotRun(t *testing.T) {
	gate, _ := newTestGate()
	gate.Grant("test")

	kept, removed := 0, 0
	gate.OnRevoke(func() { kept++ })
	removeRevoke := gate.OnRevoke(func() { removed++ })
	removeChange := gate.OnChange(func(model.ConsentRecord) { removed++ })

	removeRevoke()
	removeChange()
	removeRevoke()

	if revoke, change := gate.Hooks(); revoke != 1 || change != 0 {
		t.Fatalf("expected 1 revoke hook and 0 change hooks, got %d and %d", revoke, change)
	}

	gate.Revoke("user")
	if kept != 1 {
		t.Fatalf("expected the remaining hook to run once, got %d", kept)
	}
	if removed != 0 {
		t.Fatalf("removed hooks ran %d times", removed)
	}
}
