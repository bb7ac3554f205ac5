package migrate

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

// Phase orders migrators around opening the slot.
type Phase int

const (
	// Schema migrators prepare backend tables or collections before the slot
	// is opened.
	Schema Phase = iota
	// Payload migrators rewrite stored values through the opened slot, which
	// they get from TargetFrom.
	Payload
)

// Migrator runs one migration step.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a migrator with its phase and its order within the phase.
type Plugin struct {
	Order    int
	Phase    Phase
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Run executes the migrators of phase in Order.
func Run(ctx context.Context, phase Phase) error {
	var selected []Plugin
	for _, p := range plugins {
		if p.Phase == phase {
			selected = append(selected, p)
		}
	}
	slices.SortStableFunc(selected, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	for _, p := range selected {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}

// Target is the opened slot payload migrators rewrite.
type Target struct {
	Slot   registryslot.Slot
	Prefix string
}

type targetKey struct{}

// WithTarget returns ctx carrying the slot for the Payload phase.
func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

// TargetFrom returns the slot stored by WithTarget.
func TargetFrom(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}
