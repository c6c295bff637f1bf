package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/daemon"
	"github.com/fieldside/claimsync/internal/dashboard"
	"github.com/fieldside/claimsync/internal/engine"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/orchestrator"
	"github.com/fieldside/claimsync/internal/realtime"
	"github.com/fieldside/claimsync/internal/remote"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the claimsync daemon.

The daemon:
  1. Drains the durable operation queue against the remote backend
  2. Probes connectivity and syncs automatically when back online
  3. Merges realtime changes from other devices (last-write-wins)
  4. Ingests captured photos from the spool directory
  5. Serves sync status to UI clients over WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := log.New(os.Stderr, "", log.LstdFlags)
		if cfg.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    20, // megabytes
				MaxBackups: 5,
				MaxAge:     14, // days
			})
		}
		componentLogger := func(prefix string) *log.Logger {
			return log.New(logger.Writer(), prefix, log.LstdFlags)
		}

		db, q, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		backend, err := remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.BackendURL,
			Logger:  componentLogger("[remote] "),
		})
		if err != nil {
			return err
		}

		eventBus := bus.New()
		defer eventBus.Close()

		monitor := netmon.New(backend.Ping, netmon.Config{
			Interval: cfg.ProbeInterval,
			Logger:   componentLogger("[netmon] "),
		})

		eng := engine.New(db, q, backend, monitor, eventBus, componentLogger("[engine] "))

		orch := orchestrator.NewWithConfig(db, q, monitor, eng, eventBus, &orchestrator.Config{
			ActivityLog: true,
			Logger:      componentLogger("[orchestrator] "),
		})

		bridge := realtime.NewBridge(db, eventBus, componentLogger("[bridge] "))
		subscriber, err := realtime.NewSubscriber(bridge, realtime.SubscriberConfig{
			BaseURL: cfg.BackendURL,
			Owner:   cfg.Owner,
			Logger:  componentLogger("[realtime] "),
		})
		if err != nil {
			return err
		}

		var dash *dashboard.Server
		if cfg.DashboardPort > 0 {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Status: eng,
				Logger: componentLogger("[dashboard] "),
			})
		}

		d, err := daemon.New(daemon.Deps{
			Store:        db,
			Queue:        q,
			Engine:       eng,
			Monitor:      monitor,
			Orchestrator: orch,
			Bus:          eventBus,
			Subscriber:   subscriber,
			Dashboard:    dash,
		}, &daemon.Config{
			SyncInterval: cfg.SyncInterval,
			SpoolDir:     cfg.SpoolDir,
			Logger:       componentLogger("[daemon] "),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, "claimsync daemon running (Ctrl-C to stop)")
		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
