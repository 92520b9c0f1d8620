package whiteboard

import (
	"testing"

	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

func gatedCapability(selectors any) registry.Capability {
	return registry.Capability{
		ID: "gated",
		Properties: registry.Properties{
			PropExtensionSelect: selectors,
		},
	}
}

// lifecycle records activations and teardowns of a gated program.
type lifecycle struct {
	events []string
}

func (l *lifecycle) program() flow.Program[string] {
	return func(pipe flow.Pipe[string]) flow.Handle {
		l.events = append(l.events, "up")
		downstream := pipe("v")
		return flow.HandleFunc(func() {
			downstream.Close()
			l.events = append(l.events, "down")
		})
	}
}

func registerExtensionCap(reg registry.Registry, name string) registry.Registration {
	return reg.Register("ext", nil, registry.Properties{
		PropExtension: true,
		PropName:      name,
	})
}

func TestWaiterPassesThroughWithoutSelectors(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle

	h := waitForDependencies(reg, zap.NewNop(), registry.Capability{ID: "plain"}, lc.program()).
		Effects(nil, nil, nil).Run()
	defer h.Close()

	if len(lc.events) != 1 || lc.events[0] != "up" {
		t.Fatalf("events = %v, want [up]", lc.events)
	}
}

func TestWaiterActivatesWhenAllSatisfied(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle
	c := gatedCapability([]string{"(" + PropName + "=a)", "(" + PropName + "=b)"})

	h := waitForDependencies(reg, zap.NewNop(), c, lc.program()).
		Effects(nil, nil, nil).Run()
	defer h.Close()

	if len(lc.events) != 0 {
		t.Fatalf("activated with no dependencies present: %v", lc.events)
	}
	registerExtensionCap(reg, "a")
	if len(lc.events) != 0 {
		t.Fatalf("activated with one of two dependencies: %v", lc.events)
	}
	registerExtensionCap(reg, "b")
	if len(lc.events) != 1 || lc.events[0] != "up" {
		t.Fatalf("events = %v, want [up]", lc.events)
	}
}

func TestWaiterRearmsOnLoss(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle
	c := gatedCapability("(" + PropName + "=a)")

	h := waitForDependencies(reg, zap.NewNop(), c, lc.program()).
		Effects(nil, nil, nil).Run()
	defer h.Close()

	ext := registerExtensionCap(reg, "a")
	ext.Close()
	registerExtensionCap(reg, "a")

	want := []string{"up", "down", "up"}
	if len(lc.events) != len(want) {
		t.Fatalf("events = %v, want %v", lc.events, want)
	}
	for i := range want {
		if lc.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", lc.events, want)
		}
	}
}

func TestWaiterSurvivesRedundantDependencies(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle
	c := gatedCapability("(" + PropName + "=a)")

	h := waitForDependencies(reg, zap.NewNop(), c, lc.program()).
		Effects(nil, nil, nil).Run()
	defer h.Close()

	first := registerExtensionCap(reg, "a")
	registerExtensionCap(reg, "a")

	// Two providers satisfy the selector; losing one keeps it satisfied.
	first.Close()
	if len(lc.events) != 1 || lc.events[0] != "up" {
		t.Fatalf("events = %v, want [up]", lc.events)
	}
}

func TestWaiterStopTearsDownActive(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle
	c := gatedCapability("(" + PropName + "=a)")

	h := waitForDependencies(reg, zap.NewNop(), c, lc.program()).
		Effects(nil, nil, nil).Run()
	registerExtensionCap(reg, "a")
	h.Close()

	if len(lc.events) != 2 || lc.events[1] != "down" {
		t.Fatalf("events = %v, want [up down]", lc.events)
	}
}

func TestWaiterRejectsMalformedSelector(t *testing.T) {
	reg := registry.New(zap.NewNop())
	var lc lifecycle
	c := gatedCapability("(((")

	h := waitForDependencies(reg, zap.NewNop(), c, lc.program()).
		Effects(nil, nil, nil).Run()
	defer h.Close()

	registerExtensionCap(reg, "a")
	if len(lc.events) != 0 {
		t.Fatalf("program with malformed selector activated: %v", lc.events)
	}
}
