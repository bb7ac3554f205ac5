package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyClientID is the gin context key for the calling client ID.
	ContextKeyClientID = "clientID"
)

// userClaims are tried in order when a JWT names its subject.
var userClaims = []string{"preferred_username", "upn", "sub"}

var (
	errMissingHeader = errors.New("missing Authorization header")
	errNotBearer     = errors.New("invalid Authorization header; expected Bearer token")
	errInvalidJWT    = errors.New("invalid JWT")
	errNoSubject     = errors.New("JWT missing identity claims")
	errInvalidUserID = errors.New("user id must not be empty or contain '/'")
)

// Identity is the caller behind a request. UserID owns the persisted stores;
// ClientID names the application calling on the user's behalf.
type Identity struct {
	UserID   string
	ClientID string
}

// TokenResolver maps bearer tokens to identities. Without an OIDC issuer the
// token is the user ID itself.
type TokenResolver struct {
	verifier          *oidc.IDTokenVerifier
	clients           map[string]string
	trustClientHeader bool
}

// NewTokenResolver builds a resolver from cfg. OIDC discovery runs once here;
// when it fails the resolver keeps serving plain user-ID tokens.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	r := &TokenResolver{
		clients:           cfg.APIKeys,
		trustClientHeader: cfg.Mode == config.ModeTesting,
	}
	if cfg.OIDCIssuer == "" {
		return r
	}
	verifier, err := discoverVerifier(context.Background(), cfg.OIDCIssuer, cfg.OIDCDiscoveryURL)
	if err != nil {
		log.Error("OIDC discovery failed; bearer tokens are treated as user IDs", "issuer", cfg.OIDCIssuer, "err", err)
		return r
	}
	log.Info("OIDC auth enabled", "issuer", cfg.OIDCIssuer)
	r.verifier = verifier
	return r
}

// discoverVerifier loads the issuer's keys. discoveryURL, when set, is where
// the discovery document is fetched from; tokens still carry issuer.
func discoverVerifier(ctx context.Context, issuer, discoveryURL string) (*oidc.IDTokenVerifier, error) {
	oidcConfig := &oidc.Config{SkipClientIDCheck: true}
	if discoveryURL == "" || discoveryURL == issuer {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, err
		}
		return provider.Verifier(oidcConfig), nil
	}

	provider, err := oidc.NewProvider(oidc.InsecureIssuerURLContext(ctx, issuer), discoveryURL)
	if err != nil {
		return nil, err
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil || doc.JWKSURI == "" {
		return provider.Verifier(oidcConfig), nil
	}
	return oidc.NewVerifier(issuer, oidc.NewRemoteKeySet(ctx, doc.JWKSURI), oidcConfig), nil
}

// ValidUserID reports whether id can name a user. The ID becomes a slot key
// segment, so it must be non-empty and free of '/'.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// Resolve turns a bearer token plus the X-API-Key and X-Client-ID header values
// into an Identity. X-Client-ID is only honored in testing mode.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken, apiKey, clientIDHeader string) (*Identity, error) {
	userID, err := r.userOf(ctx, bearerToken)
	if err != nil {
		return nil, err
	}
	if !ValidUserID(userID) {
		return nil, errInvalidUserID
	}
	return &Identity{UserID: userID, ClientID: r.clientOf(apiKey, clientIDHeader)}, nil
}

func (r *TokenResolver) clientOf(apiKey, header string) string {
	if key := strings.TrimSpace(apiKey); key != "" {
		if client, ok := r.clients[key]; ok {
			return client
		}
		log.Warn("Received invalid API key")
	}
	if r.trustClientHeader {
		return strings.TrimSpace(header)
	}
	return ""
}

func (r *TokenResolver) userOf(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if r.verifier == nil || strings.Count(token, ".") < 2 {
		return token, nil
	}
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	for _, name := range userClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errNoSubject
}

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetClientID returns the calling client ID from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errNotBearer
	}
	return token, nil
}

// AuthMiddleware rejects requests without a resolvable bearer token and
// records the caller identity on the gin context.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authenticate(c, resolver)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "route", c.FullPath(), "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ContextKeyUserID, id.UserID)
		if id.ClientID != "" {
			c.Set(ContextKeyClientID, id.ClientID)
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, resolver *TokenResolver) (*Identity, error) {
	token, err := bearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return nil, err
	}
	id, err := resolver.Resolve(c.Request.Context(), token, c.GetHeader("X-API-Key"), c.GetHeader("X-Client-ID"))
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return id, nil
}
