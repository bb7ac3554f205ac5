package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/cmd/migrate"
	"github.com/chirino/assistant-state/internal/cmd/serve"
	"github.com/chirino/assistant-state/internal/cmd/slots"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "assistant-state",
		Usage: "Persisted state and vendor proxies for a voice assistant",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			slots.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
