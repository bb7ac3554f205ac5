package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chirino/assistant-state/internal/contextmemory"
	"github.com/chirino/assistant-state/internal/conversations"
	"github.com/chirino/assistant-state/internal/insights"
	"github.com/chirino/assistant-state/internal/offline"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	"github.com/chirino/assistant-state/internal/reminders"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/chirino/assistant-state/internal/workflows"
	"github.com/chirino/assistant-state/internal/workspace"
)

func init() {
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Phase: registrymigrate.Payload, Migrator: payloadMigrator{}})
}

// payloadMigrator upgrades every stored payload of the migration target.
type payloadMigrator struct{}

func (payloadMigrator) Name() string { return "payload-upgrade" }

func (payloadMigrator) Migrate(ctx context.Context) error {
	t, ok := registrymigrate.TargetFrom(ctx)
	if !ok {
		return fmt.Errorf("no slot to upgrade")
	}
	report, err := UpgradeAll(ctx, t.Slot, t.Prefix)
	if err != nil {
		return err
	}
	log.Info("Payloads checked",
		"scanned", report.Scanned,
		"upgraded", report.Upgraded,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return nil
}

var upgraders = map[string]func(string) (string, bool, error){
	contextmemory.Key: contextmemory.Codec.Upgrade,
	insights.Key:      insights.Codec.Upgrade,
	conversations.Key: conversations.Codec.Upgrade,
	offline.Key:       offline.Codec.Upgrade,
	reminders.Key:     reminders.Codec.Upgrade,
	workspace.Key:     workspace.Codec.Upgrade,
	voicecommands.Key: voicecommands.Codec.Upgrade,
	workflows.Key:     workflows.Codec.Upgrade,
}

// Upgrade rewrites a stored payload of storeKey at its current version. It
// reports whether the payload changed.
func Upgrade(storeKey, raw string) (string, bool, error) {
	up, ok := upgraders[storeKey]
	if !ok {
		return raw, false, fmt.Errorf("unknown store %q", storeKey)
	}
	return up(raw)
}

// UpgradeReport counts what UpgradeAll did.
type UpgradeReport struct {
	Scanned  int
	Upgraded int
	Skipped  int
	Failed   int
}

// UpgradeAll rewrites every stored payload under prefix at its store's
// current version. Keys that do not name a known store are skipped. A payload
// that cannot be decoded is left in place and counted as failed; it falls back
// to defaults when its user next opens the store.
func UpgradeAll(ctx context.Context, s registryslot.Slot, prefix string) (UpgradeReport, error) {
	var report UpgradeReport
	prefix = strings.Trim(prefix, "/")
	keys, err := s.Keys(ctx, prefix+"/")
	if err != nil {
		return report, fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		p, _, storeKey, ok := registryslot.SplitKey(key)
		if _, known := upgraders[storeKey]; !ok || p != prefix || !known {
			report.Skipped++
			continue
		}
		raw, found, err := s.Get(ctx, key)
		if err != nil {
			return report, fmt.Errorf("read %s: %w", key, err)
		}
		if !found {
			report.Skipped++
			continue
		}
		out, changed, err := Upgrade(storeKey, raw)
		if err != nil {
			log.Warn("Payload left as is", "key", key, "err", err)
			report.Failed++
			continue
		}
		if !changed {
			continue
		}
		if err := s.Set(ctx, key, out); err != nil {
			return report, fmt.Errorf("write %s: %w", key, err)
		}
		report.Upgraded++
	}
	return report, nil
}
