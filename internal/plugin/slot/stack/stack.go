// Package stack opens the configured slot backend and applies the value
// decorators in their fixed order: encrypted, cached, metrics.
package stack

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/plugin/slot/cached"
	"github.com/chirino/assistant-state/internal/plugin/slot/encrypted"
	"github.com/chirino/assistant-state/internal/plugin/slot/metrics"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

// Open selects the backend named by cfg.SlotType and wraps it. The returned
// context carries the raw backend so encryption providers can keep their
// wrapped data keys next to the values.
func Open(ctx context.Context, cfg *config.Config) (context.Context, registryslot.Slot, error) {
	ctx = config.WithContext(ctx, cfg)
	loader, err := registryslot.Select(cfg.SlotType)
	if err != nil {
		return ctx, nil, err
	}
	raw, err := loader(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize slot: %w", err)
	}
	ctx = registryslot.WithContext(ctx, raw)

	svc, err := dataencryption.New(ctx, cfg)
	if err != nil {
		_ = raw.Close()
		return ctx, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	ctx = dataencryption.WithContext(ctx, svc)

	s := encrypted.Wrap(raw, svc)
	if cfg.SlotCacheEnabled {
		s, err = cached.Wrap(s, cfg.SlotCacheMaxCost, cfg.SlotCacheTTL)
		if err != nil {
			_ = raw.Close()
			return ctx, nil, fmt.Errorf("failed to initialize slot cache: %w", err)
		}
	}
	s = metrics.Wrap(s, cfg.SlotType)

	log.Info("Slot opened",
		"kind", cfg.SlotType,
		"prefix", cfg.ResolvedSlotPrefix(),
		"encryption", cfg.EncryptionKind,
		"cache", cfg.SlotCacheEnabled,
	)
	return ctx, s, nil
}
