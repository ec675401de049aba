package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mxcp-io/mxcp-core/internal/admin"
	"github.com/mxcp-io/mxcp-core/internal/authserver"
	"github.com/mxcp-io/mxcp-core/internal/config"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/reload"
	"github.com/mxcp-io/mxcp-core/internal/secrets"
	"github.com/mxcp-io/mxcp-core/internal/transport"
)

// newServeCmd creates the "serve" subcommand, grounded on the teacher's
// cmd/thv/app/mcp_serve.go (NewStreamableHTTPServer behind a stdlib
// http.Server, started in a goroutine, shut down gracefully on signal) and
// cmd/vmcp/app/commands.go's runServe (config-driven component wiring ahead
// of a single blocking server.Start call).
func newServeCmd(loader *config.Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mxcpd gateway",
		Long: `Start the mxcpd gateway: load the registry and configuration, open the
embedded SQL engine, mount the MCP endpoint and the OAuth 2.0 authorization
surface, and serve until terminated. SIGHUP triggers a hot reload of the
whole serving stack without dropping in-flight calls.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, loader)
		},
	}

	cmd.Flags().String("listen-addr", "", "address the MCP HTTP endpoint listens on")
	cmd.Flags().String("registry-dir", "", "directory of declared tool/resource/prompt YAML")
	cmd.Flags().Bool("stdio", false, "serve over stdin/stdout instead of HTTP, for a single local client")
	bindFlag(loader, cmd.Flags(), "listen_addr", "listen-addr")
	bindFlag(loader, cmd.Flags(), "registry_dir", "registry-dir")

	return cmd
}

func runServe(cmd *cobra.Command, loader *config.Loader) error {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath, _ = cmd.Parent().PersistentFlags().GetString("config")
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger.Infow("mxcpd: configuration loaded", "registry_dir", cfg.RegistryDir, "issuer", cfg.Issuer)

	bootResolver := secrets.New()
	d, err := newDaemon(ctx, cfg, bootResolver)
	if err != nil {
		return fmt.Errorf("wiring gateway components: %w", err)
	}

	coordinator, err := reload.New(ctx, d.buildFunc())
	if err != nil {
		return fmt.Errorf("building initial generation: %w", err)
	}

	if cfg.Reload.WatchFilesystem {
		stop, err := coordinator.WatchFilesystem(ctx, cfg.RegistryDir, cfg.Reload.Debounce())
		if err != nil {
			return fmt.Errorf("watching registry directory: %w", err)
		}
		defer func() { _ = stop() }()
	}
	if cfg.Reload.WatchSignal {
		sighup := make(chan struct{}, 1)
		notify := make(chan os.Signal, 1)
		signal.Notify(notify, syscall.SIGHUP)
		go func() {
			for range notify {
				select {
				case sighup <- struct{}{}:
				default:
				}
			}
		}()
		go coordinator.WatchSignals(ctx, sighup)
	}

	// authserver.Service unconditionally dereferences its provider on
	// /authorize and /callback, so it is only mounted when an upstream
	// provider is actually configured. Without one, no OAuth routes are
	// mounted and /mcp still accepts only MXCP-issued session tokens via
	// SessionAuthenticator; JWT verification (auth.JWTVerifier) is not
	// wired here.
	var authService *authserver.Service
	if d.provider != nil {
		clients := authserver.NewMemoryClientStore()
		authService = authserver.New(cfg.Issuer, d.sessions, clients, d.provider)
	}

	authenticator := transport.SessionAuthenticator(d.sessions)

	stdioMode, _ := cmd.Flags().GetBool("stdio")
	if stdioMode {
		logger.Info("mxcpd: serving over stdio")
		return transport.ServeStdio(ctx, "mxcpd", coordinator)
	}

	router := transport.NewRouter("mxcpd", coordinator, authService, authenticator)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminServer := admin.New(coordinator, d.sessions)

	errCh := make(chan error, 2)
	go func() {
		logger.Infow("mxcpd: listening for MCP requests", "addr", cfg.ListenAddr)
		var err error
		if cfg.TLS.Enabled {
			err = httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("mcp listener: %w", err)
		}
	}()
	go func() {
		logger.Infow("mxcpd: listening for admin requests", "socket", cfg.AdminSocketPath)
		if err := adminServer.Serve(ctx, cfg.AdminSocketPath); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("mxcpd: shutting down")
	case err := <-errCh:
		logger.Errorw("mxcpd: listener failed, shutting down", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
