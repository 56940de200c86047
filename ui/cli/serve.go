// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjgordon/labportal/internal/api"
	"github.com/zjgordon/labportal/internal/auth"
	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/pruner"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the portal HTTP server",
		Long:    `Serves the agent and admin APIs and runs the scheduled prune and stale-action sweep.`,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
	cmd.Flags().String("server.listen", ":8080", "Address to listen on")
	return cmd
}

func runServer(ctx context.Context) error {
	log := logging.With("serve")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if appConfig.Auth.AdminTokenHash == "" {
		log.Warn("auth.admin_token_hash is empty; admin endpoints will reject every request (see 'labportal hash-admin-token')")
	}

	d := control.New(store, control.Options{MaxPull: appConfig.Dispatcher.MaxPull})
	p := pruner.New(store)

	var sched *pruner.Scheduler
	if appConfig.Pruner.Enabled || appConfig.Dispatcher.ReclaimAfter > 0 {
		sched, err = pruner.NewScheduler(p, d, pruner.ScheduleConfig{
			Schedule: appConfig.Pruner.Schedule,
			Options: pruner.Options{
				RetentionDays: appConfig.Pruner.RetentionDays,
				BatchSize:     appConfig.Pruner.BatchSize,
			},
			ReclaimAfter: appConfig.Dispatcher.ReclaimAfter,
			SkipPrune:    !appConfig.Pruner.Enabled,
		})
		if err != nil {
			return err
		}
		sched.Start()
	}

	srv := &http.Server{
		Addr: appConfig.Server.Listen,
		Handler: api.NewRouter(api.Config{
			Dispatcher:     d,
			Pruner:         p,
			Guard:          auth.NewGuard(store, appConfig.Auth.AdminTokenHash, appConfig.Auth.CronSecret),
			AgentPerMinute: appConfig.RateLimit.AgentPerMinute,
			RequestTimeout: appConfig.Server.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "db", appConfig.Database.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if sched != nil {
			<-sched.Stop().Done()
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("scheduled job still running at shutdown")
		}
	}
	return nil
}
