// Package slots inspects and removes stored payloads without starting the
// server.
package slots

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/chirino/assistant-state/internal/cmd/serve"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/plugin/slot/stack"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/state"
	"github.com/urfave/cli/v3"
)

// Command returns the slots sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "slots",
		Usage: "List, print or delete stored assistant state",
		Flags: serve.SlotFlags(&cfg),
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored keys, optionally for one user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "Only list this user's stores"},
				},
				Action: withSlot(&cfg, func(ctx context.Context, cmd *cli.Command, s registryslot.Slot) error {
					return List(ctx, s, cfg.ResolvedSlotPrefix(), cmd.String("user"), cmd.Root().Writer)
				}),
			},
			{
				Name:      "get",
				Usage:     "Print one stored payload",
				ArgsUsage: "<user> <store>",
				Action: withSlot(&cfg, func(ctx context.Context, cmd *cli.Command, s registryslot.Slot) error {
					if cmd.Args().Len() != 2 {
						return fmt.Errorf("expected <user> <store>")
					}
					return Get(ctx, s, cfg.ResolvedSlotPrefix(), cmd.Args().Get(0), cmd.Args().Get(1), cmd.Root().Writer)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete one store of a user, or all of them when no store is named",
				ArgsUsage: "<user> [store]",
				Action: withSlot(&cfg, func(ctx context.Context, cmd *cli.Command, s registryslot.Slot) error {
					if n := cmd.Args().Len(); n < 1 || n > 2 {
						return fmt.Errorf("expected <user> [store]")
					}
					n, err := Delete(ctx, s, cfg.ResolvedSlotPrefix(), cmd.Args().Get(0), cmd.Args().Get(1))
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.Root().Writer, "deleted %d key(s)\n", n)
					return err
				}),
			},
		},
	}
}

type slotAction func(ctx context.Context, cmd *cli.Command, s registryslot.Slot) error

func withSlot(cfg *config.Config, fn slotAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}
		ctx, s, err := stack.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, cmd, s)
	}
}

func checkUser(userID string) error {
	if !security.ValidUserID(userID) {
		return fmt.Errorf("invalid user %q", userID)
	}
	return nil
}

func checkStore(storeKey string) error {
	if !slices.Contains(state.Keys, storeKey) {
		return fmt.Errorf("unknown store %q; valid: %v", storeKey, state.Keys)
	}
	return nil
}

// List writes one "<user> <store>" line per stored key under prefix.
func List(ctx context.Context, s registryslot.Slot, prefix, userID string, w io.Writer) error {
	scope := prefix + "/"
	if userID != "" {
		scope += userID + "/"
	}
	keys, err := s.Keys(ctx, scope)
	if err != nil {
		return err
	}
	for _, key := range keys {
		p, user, storeKey, ok := registryslot.SplitKey(key)
		if !ok || p != prefix || (userID != "" && user != userID) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", user, storeKey); err != nil {
			return err
		}
	}
	return nil
}

// Get writes the stored payload of one store, indented when it is JSON.
func Get(ctx context.Context, s registryslot.Slot, prefix, userID, storeKey string, w io.Writer) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	if err := checkStore(storeKey); err != nil {
		return err
	}
	raw, ok, err := s.Get(ctx, registryslot.Key(prefix, userID, storeKey))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no %s stored for %s", storeKey, userID)
	}
	var buf bytes.Buffer
	if json.Indent(&buf, []byte(raw), "", "  ") != nil {
		buf.Reset()
		buf.WriteString(raw)
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

// Delete removes one store of a user, or every store when storeKey is empty.
// It returns how many keys were removed.
func Delete(ctx context.Context, s registryslot.Slot, prefix, userID, storeKey string) (int, error) {
	if err := checkUser(userID); err != nil {
		return 0, err
	}
	targets := state.Keys
	if storeKey != "" {
		if err := checkStore(storeKey); err != nil {
			return 0, err
		}
		targets = []string{storeKey}
	}
	n := 0
	for _, k := range targets {
		key := registryslot.Key(prefix, userID, k)
		_, ok, err := s.Get(ctx, key)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := s.Remove(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
