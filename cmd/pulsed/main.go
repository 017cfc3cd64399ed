package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/pulse/internal/config"
	"github.com/zeusync/pulse/internal/core/notify"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/injector"
)

func main() {
	path := flag.String("config", "", "path to the YAML config; defaults apply when empty")
	flag.Parse()

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(1)
		}
	}

	d, err := injector.InitializeDaemon(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building daemon:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if l, ok := d.Logger.(interface{ Sync() error }); ok {
		defer func() { _ = l.Sync() }()
	}

	if err := run(ctx, d); err != nil {
		d.Logger.Fatal("Daemon stopped", log.Error(err))
	}
	d.Logger.Info("Daemon stopped")
}

func run(ctx context.Context, d *injector.Daemon) error {
	if _, err := d.Core.SubscribeNotifications(func(events []notify.Event) {
		for _, ev := range events {
			d.Logger.Info("Notification",
				log.String("type", ev.Type),
				log.String("severity", ev.Severity.String()),
				log.String("title", ev.Title),
				log.Int("count", ev.Count),
			)
		}
	}); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(d.Config.Metrics.Path, d.Collector.Handler())
	mux.HandleFunc(d.Config.Metrics.StatusPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Core.Status())
	})
	srv := &http.Server{
		Addr:              d.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.Loop.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer d.Core.Close()
		return d.Client.Run(ctx)
	})
	g.Go(func() error {
		d.Logger.Info("Serving metrics", log.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
