package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the assistant state service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, X-Client-ID header is accepted.
	Mode string

	// Slot backend type: "memory", "sqlite", "postgres", "mongo", "redis", "infinispan" or "s3".
	SlotType string

	// SlotURL is the backend connection string (sqlite path, postgres DSN, mongo URI, redis URL).
	SlotURL string

	// SlotPrefix namespaces every key written by this deployment.
	SlotPrefix string

	// Run slot schema migrations and payload upgrades on startup.
	SlotMigrateAtStart bool

	// Read cache in front of the slot backend.
	SlotCacheEnabled bool
	SlotCacheMaxCost int64
	SlotCacheTTL     time.Duration

	// Mongo database holding the slot collection.
	MongoDatabase string

	// Infinispan (RESP protocol, connects via go-redis under the covers)
	InfinispanHost           string // host:port (e.g. "localhost:11222")
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// S3
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Encryption of slot values: "plain", "dek", "vault" or "kms".
	EncryptionKind string
	// EncryptionKey is a comma-separated list of AES keys for the "dek" provider.
	// The first key is primary (used for new encryptions); subsequent keys are legacy
	// (decryption-only, for zero-downtime key rotation).
	EncryptionKey             string
	EncryptionVaultTransitKey string
	// EncryptionKMSKeyID is the AWS KMS key ID or ARN used by the "kms" provider.
	EncryptionKMSKeyID string

	// Voice conversation token proxy.
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsAgentID string

	// Search proxy.
	PerplexityAPIKey  string
	PerplexityBaseURL string
	PerplexityModel   string

	// Bounded wait for upstream proxy calls.
	ProxyTimeout time.Duration

	// Bounded wait for workflow webhook actions and offline action sync.
	WebhookTimeout time.Duration

	// Comma-separated CIDRs that webhooks and offline sync may reach although
	// they are loopback, private or link-local. Empty refuses all of them.
	EgressAllow string

	// Reminder due-check interval.
	ReminderPollInterval time.Duration

	// Notifier type: "none", "log" or "stream".
	NotifyType string

	// Optional YAML file with default voice commands and workflow triggers.
	SeedFile string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// APIKeys maps API key values to client IDs (ASSISTANT_STATE_API_KEYS_<CLIENT_ID>=<key>).
	APIKeys map[string]string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                     ModeProd,
		SlotType:                 "memory",
		SlotPrefix:               "assistant",
		SlotMigrateAtStart:       true,
		SlotCacheMaxCost:         64 * 1024 * 1024,
		SlotCacheTTL:             5 * time.Minute,
		MongoDatabase:            "assistant_state",
		InfinispanStartupTimeout: 30 * time.Second,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           2,
		EncryptionKind:           "plain",
		ElevenLabsBaseURL:        "https://api.elevenlabs.io",
		PerplexityBaseURL:        "https://api.perplexity.ai",
		PerplexityModel:          "sonar",
		ProxyTimeout:             30 * time.Second,
		WebhookTimeout:           10 * time.Second,
		ReminderPollInterval:     30 * time.Second,
		NotifyType:               "stream",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		CORSEnabled:  true,
		MaxBodySize:  2 * 1024 * 1024,
		DrainTimeout: 30,
	}
}

// ResolvedSlotPrefix returns the key prefix without surrounding slashes.
func (c *Config) ResolvedSlotPrefix() string {
	if c == nil {
		return "assistant"
	}
	if p := strings.Trim(strings.TrimSpace(c.SlotPrefix), "/"); p != "" {
		return p
	}
	return "assistant"
}
