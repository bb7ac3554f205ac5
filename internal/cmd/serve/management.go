package serve

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
)

// startManagementServer serves health, readiness and metrics on their own
// port. It defaults to plaintext when neither mode is configured.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (func(context.Context) error, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	rs, err := listen("management", cfg, handler)
	if err != nil {
		return nil, err
	}
	log.Info("Management server listening", "addr", rs.Addr)
	return rs.Close, nil
}
