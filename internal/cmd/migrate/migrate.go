package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/cmd/serve"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/plugin/slot/stack"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	// Registers the payload-upgrade migrator.
	_ "github.com/chirino/assistant-state/internal/state"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create slot tables and upgrade stored payloads to their current version",
		Flags: serve.SlotFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			cfg.SlotMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.Run(ctx, registrymigrate.Schema); err != nil {
				return err
			}

			ctx, slot, err := stack.Open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer slot.Close()

			target := registrymigrate.Target{Slot: slot, Prefix: cfg.ResolvedSlotPrefix()}
			if err := registrymigrate.Run(registrymigrate.WithTarget(ctx, target), registrymigrate.Payload); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
