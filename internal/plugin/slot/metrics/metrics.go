package metrics

import (
	"context"
	"time"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/security"
)

// Wrap returns a Slot that records SlotLatency for every operation.
func Wrap(inner registryslot.Slot, backend string) registryslot.Slot {
	return &metricsSlot{inner: inner, backend: backend}
}

type metricsSlot struct {
	inner   registryslot.Slot
	backend string
}

func (m *metricsSlot) observe(op string, start time.Time) {
	if security.SlotLatency != nil {
		security.SlotLatency.WithLabelValues(op, m.backend).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsSlot) Get(ctx context.Context, key string) (string, bool, error) {
	defer m.observe("get", time.Now())
	return m.inner.Get(ctx, key)
}

func (m *metricsSlot) Set(ctx context.Context, key string, value string) error {
	defer m.observe("set", time.Now())
	return m.inner.Set(ctx, key, value)
}

func (m *metricsSlot) Remove(ctx context.Context, key string) error {
	defer m.observe("remove", time.Now())
	return m.inner.Remove(ctx, key)
}

func (m *metricsSlot) Keys(ctx context.Context, prefix string) ([]string, error) {
	defer m.observe("keys", time.Now())
	return m.inner.Keys(ctx, prefix)
}

func (m *metricsSlot) Close() error {
	return m.inner.Close()
}
