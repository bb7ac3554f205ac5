package serve

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/offline"
	"github.com/chirino/assistant-state/internal/plugin/route/assistant"
	"github.com/chirino/assistant-state/internal/plugin/route/notifications"
	"github.com/chirino/assistant-state/internal/plugin/route/proxy"
	routesystem "github.com/chirino/assistant-state/internal/plugin/route/system"
	"github.com/chirino/assistant-state/internal/plugin/slot/stack"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	registryroute "github.com/chirino/assistant-state/internal/registry/route"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/seed"
	"github.com/chirino/assistant-state/internal/state"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Slot            registryslot.Slot
	// RawSlot is the backend beneath the encryption and cache layers.
	RawSlot         registryslot.Slot
	Manager         *state.Manager
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown stops accepting requests, then flushes and closes every open
// store set before releasing the slot backend.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	s.Manager.Close()
	if cerr := s.Slot.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting assistant state service",
		"httpPort", cfg.Listener.Port,
		"slot", cfg.SlotType,
		"encryption", cfg.EncryptionKind,
		"notify", cfg.NotifyType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	seedFile, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return nil, err
	}

	// Run schema migrations
	ctx = config.WithContext(ctx, cfg)
	if err := registrymigrate.Run(ctx, registrymigrate.Schema); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Open the slot backend with its encryption, cache and metrics decorators.
	ctx, slot, err := stack.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SlotMigrateAtStart {
		target := registrymigrate.Target{Slot: slot, Prefix: cfg.ResolvedSlotPrefix()}
		if err := registrymigrate.Run(registrymigrate.WithTarget(ctx, target), registrymigrate.Payload); err != nil {
			_ = slot.Close()
			return nil, err
		}
	}

	notifyLoader, err := registrynotify.Select(cfg.NotifyType)
	if err != nil {
		_ = slot.Close()
		return nil, err
	}
	notifier, err := notifyLoader(ctx)
	if err != nil {
		_ = slot.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	egress, err := security.NewEgressPolicy(cfg.EgressAllow)
	if err != nil {
		_ = slot.Close()
		return nil, err
	}
	// Webhook and sync targets come from users; vendor base URLs come from
	// the operator.
	userClient := egress.Client()
	vendorClient := &http.Client{}
	manager := state.NewManager(state.Options{
		Slot:                 slot,
		Prefix:               cfg.ResolvedSlotPrefix(),
		Notifier:             notifier,
		Seed:                 seedFile,
		Client:               userClient,
		WebhookTimeout:       cfg.WebhookTimeout,
		ReminderPollInterval: cfg.ReminderPollInterval,
	})

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(newCORSPolicy(cfg.CORSOrigins).middleware())
	}

	abort := func(err error) (*Server, error) {
		manager.Close()
		_ = slot.Close()
		return nil, err
	}

	if err := registryroute.Mount(router, registryroute.RouteTypeMain); err != nil {
		return abort(err)
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	proxy.MountRoutes(router, proxy.New(cfg, vendorClient), auth)
	assistant.MountRoutes(router, manager, auth, assistant.Options{
		SyncTimeout: cfg.WebhookTimeout,
		Syncer:      offline.HTTPSyncer{Client: userClient},
	})
	notifications.MountRoutes(router, notifier, auth, notifications.DefaultHeartbeat)

	// The slot answers a lookup of a key nobody writes.
	probeKey := registryslot.Key(cfg.ResolvedSlotPrefix(), "_system", "ready")
	routesystem.SetProbe(func(ctx context.Context) error {
		_, _, err := slot.Get(ctx, probeKey)
		return err
	})

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement); err != nil {
			return abort(err)
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return abort(fmt.Errorf("failed to start management server: %w", err))
		}
	} else if err := registryroute.Mount(router, registryroute.RouteTypeManagement); err != nil {
		return abort(err)
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		return abort(err)
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Slot:            slot,
		RawSlot:         registryslot.FromContext(ctx),
		Manager:         manager,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
