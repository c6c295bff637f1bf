package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/engine"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/remote"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass now",
	Long: `Drain the operation queue against the remote backend once and exit.

Entries interrupted by a previous crash are recovered first. If the backend
is unreachable the command reports offline and leaves the queue untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		db, q, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()

		recovered, err := q.RecoverStale(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			fmt.Printf("Recovered %d interrupted entries\n", recovered)
		}

		backend, err := remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.BackendURL,
			Logger:  log.New(os.Stderr, "[remote] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		monitor := netmon.New(backend.Ping, netmon.Config{
			Logger: log.New(os.Stderr, "[netmon] ", log.LstdFlags),
		})
		monitor.CheckNow(ctx)
		if !monitor.IsOnline() {
			return fmt.Errorf("backend %s is unreachable; changes stay queued", cfg.BackendURL)
		}

		eng := engine.New(db, q, backend, monitor, bus.New(),
			log.New(os.Stderr, "[engine] ", log.LstdFlags))

		if err := eng.PerformSync(ctx); err != nil {
			return err
		}
		return printStatus(ctx, eng)
	},
}

func printStatus(ctx context.Context, eng *engine.Engine) error {
	st, err := eng.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Pending: %d  Failed: %d  Expired: %d\n",
		st.PendingCount, st.FailedCount, st.ExpiredCount)
	if st.LastSyncCompletedAt != nil {
		fmt.Printf("Last sync: %s\n", st.LastSyncCompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
