package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemo/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	fmt.Fprintf(os.Stderr, "  embedder: %s (%s, %d dims)\n", cfg.Embedding.Provider, a.engine.Embedder.Model(), a.engine.Embedder.Dimensions())
	fmt.Fprintf(os.Stderr, "  vectors: %s\n", cfg.Vector.Backend)

	sched := a.scheduler
	if cfg.Decay.Enabled {
		sched.Start(ctx)
		if cfg.Decay.Schedule != "" {
			fmt.Fprintf(os.Stderr, "  decay: cron %q\n", cfg.Decay.Schedule)
		} else {
			fmt.Fprintf(os.Stderr, "  decay: every %s\n", cfg.Decay.Interval.Duration)
		}
	} else {
		sched = nil
		fmt.Fprintf(os.Stderr, "  decay: disabled\n")
	}

	srv := server.New(a.engine, a.facts, sched, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "mnemo serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", a.dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}
