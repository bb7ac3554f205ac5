package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	registryencrypt "github.com/chirino/assistant-state/internal/registry/encrypt"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/awskms"
	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/dek"
	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/plain"
	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/vault"
	_ "github.com/chirino/assistant-state/internal/plugin/notify/logged"
	_ "github.com/chirino/assistant-state/internal/plugin/notify/none"
	_ "github.com/chirino/assistant-state/internal/plugin/notify/stream"
	_ "github.com/chirino/assistant-state/internal/plugin/route/system"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/infinispan"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/memory"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/mongo"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/postgres"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/redis"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/s3"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the assistant state HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

// SlotFlags are the flags that select and reach the slot backend. The slots
// and migrate commands share them with serve.
func SlotFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slot-kind",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_SLOT_KIND"),
			Destination: &cfg.SlotType,
			Value:       cfg.SlotType,
			Usage:       "Slot backend (" + strings.Join(registryslot.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "slot-url",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_SLOT_URL"),
			Destination: &cfg.SlotURL,
			Usage:       "Slot connection string (sqlite path, postgres DSN, mongo URI, redis URL)",
		},
		&cli.StringFlag{
			Name:        "slot-prefix",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_SLOT_PREFIX"),
			Destination: &cfg.SlotPrefix,
			Value:       cfg.SlotPrefix,
			Usage:       "Namespace for every key written by this deployment",
		},
		&cli.BoolFlag{
			Name:        "slot-cache",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_SLOT_CACHE"),
			Destination: &cfg.SlotCacheEnabled,
			Usage:       "Keep a read cache in front of the slot backend",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP host:port (e.g. localhost:11222)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket holding slot values",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Slot:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (required for LocalStack/MinIO)",
		},

		// ── Encryption ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "encryption-kind",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ENCRYPTION_KIND"),
			Destination: &cfg.EncryptionKind,
			Value:       cfg.EncryptionKind,
			Usage:       "Slot value encryption (" + strings.Join(registryencrypt.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "encryption-dek-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ENCRYPTION_DEK_KEY"),
			Destination: &cfg.EncryptionKey,
			Usage:       "Comma-separated AES keys (hex or base64, 16/24/32 bytes); the first encrypts, the rest only decrypt",
		},
		&cli.StringFlag{
			Name:        "encryption-vault-transit-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ENCRYPTION_VAULT_TRANSIT_KEY"),
			Destination: &cfg.EncryptionVaultTransitKey,
			Usage:       "Vault transit key name used to wrap data keys",
		},
		&cli.StringFlag{
			Name:        "encryption-kms-key-id",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ENCRYPTION_KMS_KEY_ID"),
			Destination: &cfg.EncryptionKMSKeyID,
			Usage:       "AWS KMS key ID or ARN used to wrap data keys",
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	out := []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing trusts the X-Client-ID header",
		},
		&cli.StringFlag{
			Name:        "seed-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_SEED_FILE"),
			Destination: &cfg.SeedFile,
			Usage:       "YAML file with voice commands and workflow triggers given to new users",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Assistant ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "notify-kind",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_NOTIFY_KIND"),
			Destination: &cfg.NotifyType,
			Value:       cfg.NotifyType,
			Usage:       "Reminder and workflow notifications (" + strings.Join(registrynotify.Names(), "|") + ")",
		},
		&cli.DurationFlag{
			Name:        "reminder-poll-interval",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_REMINDER_POLL_INTERVAL"),
			Destination: &cfg.ReminderPollInterval,
			Value:       cfg.ReminderPollInterval,
			Usage:       "How often open stores check for due reminders (0 disables)",
		},
		&cli.DurationFlag{
			Name:        "webhook-timeout",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_WEBHOOK_TIMEOUT"),
			Destination: &cfg.WebhookTimeout,
			Value:       cfg.WebhookTimeout,
			Usage:       "Bounded wait for each workflow webhook and offline action sync",
		},
		&cli.StringFlag{
			Name:        "egress-allow",
			Category:    "Assistant:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_EGRESS_ALLOW"),
			Destination: &cfg.EgressAllow,
			Usage:       "Comma-separated internal CIDRs that webhooks and offline sync may reach",
		},

		// ── Proxies ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "elevenlabs-api-key",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ELEVENLABS_API_KEY"),
			Destination: &cfg.ElevenLabsAPIKey,
			Usage:       "ElevenLabs API key (falls back to ELEVENLABS_API_KEY)",
		},
		&cli.StringFlag{
			Name:        "elevenlabs-base-url",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ELEVENLABS_BASE_URL"),
			Destination: &cfg.ElevenLabsBaseURL,
			Value:       cfg.ElevenLabsBaseURL,
			Usage:       "ElevenLabs API base URL",
		},
		&cli.StringFlag{
			Name:        "elevenlabs-agent-id",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_ELEVENLABS_AGENT_ID"),
			Destination: &cfg.ElevenLabsAgentID,
			Usage:       "Agent used when a token request names none",
		},
		&cli.StringFlag{
			Name:        "perplexity-api-key",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PERPLEXITY_API_KEY"),
			Destination: &cfg.PerplexityAPIKey,
			Usage:       "Perplexity API key (falls back to PERPLEXITY_API_KEY)",
		},
		&cli.StringFlag{
			Name:        "perplexity-base-url",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PERPLEXITY_BASE_URL"),
			Destination: &cfg.PerplexityBaseURL,
			Value:       cfg.PerplexityBaseURL,
			Usage:       "Perplexity API base URL",
		},
		&cli.StringFlag{
			Name:        "perplexity-model",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PERPLEXITY_MODEL"),
			Destination: &cfg.PerplexityModel,
			Value:       cfg.PerplexityModel,
			Usage:       "Perplexity model used for searches",
		},
		&cli.DurationFlag{
			Name:        "proxy-timeout",
			Category:    "Proxies:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_PROXY_TIMEOUT"),
			Destination: &cfg.ProxyTimeout,
			Value:       cfg.ProxyTimeout,
			Usage:       "Bounded wait for each upstream proxy call",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables OIDC auth)",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "OIDC discovery URL (internal URL when issuer is not directly reachable)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("ASSISTANT_STATE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=assistant-state",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
	return append(out, SlotFlags(cfg)...)
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

// maxBodySizeMiddleware caps request bodies. The notification stream has no
// body and stays open, so it is left alone.
func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isStreamingRequest(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

func isStreamingRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return req.Method == http.MethodGet && req.URL.Path == "/v1/notifications/stream"
}
