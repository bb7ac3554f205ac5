package dataencryption

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Service.
func WithContext(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, contextKey{}, svc)
}

// FromContext retrieves the Service from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Service {
	svc, _ := ctx.Value(contextKey{}).(*Service)
	return svc
}

// Service orchestrates encryption providers. The primary provider is used for new
// encryptions; every listed provider is available for decryption routing via
// the envelope ProviderID field.
type Service struct {
	primary encrypt.Provider
	byID    map[string]encrypt.Provider
}

// New constructs a Service from cfg.EncryptionKind (comma-separated list).
// The first named provider becomes the primary.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	svc := &Service{byID: make(map[string]encrypt.Provider)}
	for _, name := range strings.Split(cfg.EncryptionKind, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		plugin, err := encrypt.Select(name)
		if err != nil {
			return nil, err
		}
		provider, err := plugin.Loader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("encryption provider %q: %w", name, err)
		}
		svc.byID[provider.ID()] = provider
		if svc.primary == nil {
			svc.primary = provider
		}
	}
	if svc.primary == nil {
		return nil, fmt.Errorf("no encryption providers configured in ASSISTANT_STATE_ENCRYPTION_KIND")
	}
	return svc, nil
}

// NewWithProviders builds a Service from already loaded providers, primary first.
func NewWithProviders(providers ...encrypt.Provider) *Service {
	svc := &Service{byID: make(map[string]encrypt.Provider)}
	for _, p := range providers {
		svc.byID[p.ID()] = p
		if svc.primary == nil {
			svc.primary = p
		}
	}
	return svc
}

// IsPrimaryReal returns true when the primary provider performs actual encryption
// (i.e. is not the "plain" no-op provider).
func (s *Service) IsPrimaryReal() bool {
	return s.primary.ID() != "plain"
}

// Encrypt delegates to the primary provider.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return s.primary.Encrypt(ctx, plaintext)
}

// Decrypt routes to the provider named in the envelope header. Data without the
// magic was written before encryption was enabled and is returned as-is. Data
// whose magic is followed by a malformed header is returned as-is only when
// "plain" is listed; otherwise it is an error.
func (s *Service) Decrypt(ctx context.Context, data []byte) ([]byte, error) {
	if !HasMagic(data) {
		return data, nil
	}
	h, _, err := ReadHeader(bytes.NewReader(data))
	if err != nil {
		if _, ok := s.byID["plain"]; ok {
			return data, nil
		}
		return nil, err
	}
	provider, ok := s.byID[h.ProviderID]
	if !ok {
		return nil, fmt.Errorf("dataencryption: unknown provider %q in envelope header", h.ProviderID)
	}
	return provider.Decrypt(ctx, data)
}
