package serve

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningServers is a listener serving one handler over plaintext and/or TLS.
type RunningServers struct {
	Addr    net.Addr
	Port    int
	servers []*http.Server
	Close   func(ctx context.Context) error
}

// StartSinglePortHTTP serves handler on one port, splitting TLS and plaintext
// connections with cmux. Plaintext accepts HTTP/1.1 and h2c.
func StartSinglePortHTTP(_ context.Context, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, fmt.Errorf("single-port configuration requires plaintext and/or tls enabled")
	}
	return listen("api", cfg, handler)
}

func listen(name string, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	base, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%s listen failed: %w", name, err)
	}

	// cmux matchers are tried in registration order, so TLS goes first.
	muxer := cmux.New(base)
	rs := &RunningServers{Addr: base.Addr()}
	if tcpAddr, ok := base.Addr().(*net.TCPAddr); ok {
		rs.Port = tcpAddr.Port
	}
	if cfg.EnableTLS {
		cert, err := loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		lis := tls.NewListener(muxer.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		rs.serve(name+" tls", lis, &http.Server{Handler: handler, ReadHeaderTimeout: cfg.ReadHeaderTimeout})
	}
	if cfg.EnablePlainText {
		lis := muxer.Match(cmux.Any())
		rs.serve(name+" plaintext", lis, &http.Server{
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		})
	}

	go func() {
		if err := muxer.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error("connection mux failed", "listener", name, "err", err)
		}
	}()

	var once sync.Once
	rs.Close = func(ctx context.Context) error {
		var errs []error
		once.Do(func() {
			for _, srv := range rs.servers {
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs = append(errs, err)
				}
			}
			_ = base.Close()
		})
		return errors.Join(errs...)
	}
	return rs, nil
}

func (rs *RunningServers) serve(name string, lis net.Listener, srv *http.Server) {
	rs.servers = append(rs.servers, srv)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "listener", name, "err", err)
		}
	}()
}
