package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/server"
	"github.com/ohengcom/shaking-news/internal/settings"
)

const shutdownTimeout = 30 * time.Second

var (
	flagAddr      string
	flagNoPreload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background preloader",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&flagNoPreload, "no-preload", false, "do not schedule background preloading")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	mgr := settings.NewManager(settings.FromConfig(a.cfg))
	unsubscribe := mgr.Subscribe(func(s settings.Settings) {
		if err := a.store.UpdateConfig(s.CacheUpdate()); err != nil {
			a.log.Warn("Applying settings to cache failed", zap.Error(err))
		}
	})
	defer unsubscribe()

	sources := func() []config.Source { return mgr.Get().Sources(a.cfg.Sources) }

	pre := a.newPreloader()
	if !flagNoPreload {
		if err := pre.Start(); err != nil {
			return fmt.Errorf("starting preloader: %w", err)
		}
	}

	api := server.New(a.store, a.fetcher, pre,
		server.WithSources(sources),
		server.WithSettings(mgr),
		server.WithVersion(version),
		server.WithLogger(a.log.Named("http")))

	addr := a.cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		a.log.Info("Shutting down server", zap.Stringer("signal", sig))
	case err := <-errCh:
		<-pre.Stop().Done()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Server shutdown error", zap.Error(err))
	}

	select {
	case <-pre.Stop().Done():
	case <-shutdownCtx.Done():
		a.log.Warn("Preloader did not stop in time")
	}

	a.log.Info("Server stopped")
	return nil
}
