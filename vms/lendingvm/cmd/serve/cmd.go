// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/lendingvm/vms/lendingvm"
	"github.com/luxfi/lendingvm/vms/lendingvm/config"
)

const (
	lendingEndpoint = "/ext/lending"
	metricsEndpoint = "/ext/metrics"
	metricsPrefix   = "lendingvm_"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serves the lending VM over JSON-RPC",
		RunE:  serveFunc,
	}
	AddFlags(c.Flags())
	return c
}

func serveFunc(c *cobra.Command, args []string) error {
	flags, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	logger := log.NewLogger("lendingvm")
	db, err := openDB(flags.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	vm, err := lendingvm.New(cfg, logger, prometheus.WrapRegistererWithPrefix(metricsPrefix, registry), db)
	if err != nil {
		return err
	}
	handler, err := newHandler(vm, registry, flags.AllowedOrigins)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    flags.HTTPAddr,
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving lending API",
			log.String("addr", flags.HTTPAddr),
			log.String("endpoint", lendingEndpoint),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if shutdownErr := vm.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// newHandler routes the lending service and the metrics of registry. The
// lending service accepts cross-origin requests from allowedOrigins.
func newHandler(vm *lendingvm.VM, registry *prometheus.Registry, allowedOrigins []string) (http.Handler, error) {
	handlers, err := vm.CreateHandlers()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(lendingEndpoint, cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
	}).Handler(handlers[""]))
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux, nil
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	db, err := badgerdb.New(
		dir,
		nil, // configBytes - use default
		"",  // namespace
		nil, // metrics
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}
