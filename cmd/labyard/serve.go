package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RohitKumar027/ReliabilityPortal/internal/dashboard"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the dashboard API",
		Long:  "Runs the lab supervisor (shift handover, rescan and autosave jobs) and serves the JSON dashboard API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel(), cfg.Log.Format, cmd.ErrOrStderr())

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if port <= 0 {
		port = rt.cfg.Dashboard.Port
	}
	fmt.Fprintf(out, "Lab %q: %d machines, %d technicians, store %s\n",
		rt.cfg.Lab.Name, len(rt.sup.Machines()), len(rt.sup.Technicians()), rt.cfg.Store.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.sup.Run(gctx)
	})
	g.Go(func() error {
		return dashboard.Start(gctx, dashboard.StartOpts{
			Supervisor: rt.sup,
			Alerts:     rt.alerts,
			Port:       port,
			Origins:    rt.cfg.Dashboard.AllowedOrigins,
			Logger:     logger,
			Out:        out,
		})
	})
	err = g.Wait()
	fmt.Fprintln(out, "Shut down.")
	return err
}
