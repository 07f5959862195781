package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/ops"
)

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <user-id>",
		Short: "Drop a user's cached series and valuations",
		Long:  "Clears every cached performance series of the user and the valuation entries for the user's symbol set. The next read rebuilds from source data.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.service.InvalidateUserCaches(cmd.Context(), userID)
		},
	}
}

func newMonitorCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the read-only diagnostics endpoints",
		Long:  "Serves /healthz, /metrics and /status until interrupted. Observability only; no application routes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(false)
			if err != nil {
				return err
			}
			defer rt.close()

			addr := flagAddr
			if addr == "" {
				addr = rt.cfg.MonitorAddr()
			}

			opts := ops.Options{
				Addr:         addr,
				Version:      version,
				CacheBackend: rt.cfg.Cache.Backend,
				Metrics:      rt.metrics,
				Provider:     rt.source,
			}
			if mem, ok := rt.cache.(*cache.Memory); ok {
				opts.Cache = mem
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ops.NewServer(opts).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default from config)")
	return cmd
}
