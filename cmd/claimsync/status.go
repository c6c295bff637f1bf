package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fieldside/claimsync/internal/remote"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync queue status",
	Long: `Show the state of the local sync queue and backend reachability.

Works fully offline; the connectivity probe is skipped when no backend
is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, q, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()

		pending, err := q.PendingCount(ctx)
		if err != nil {
			return err
		}
		failed, err := q.FailedCount(ctx)
		if err != nil {
			return err
		}
		expired, err := q.ExpiredCount(ctx)
		if err != nil {
			return err
		}

		online := false
		probed := false
		if cfg.Validate() == nil {
			if backend, err := remote.NewClient(remote.ClientConfig{BaseURL: cfg.BackendURL}); err == nil {
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				online = backend.Ping(probeCtx) == nil
				cancel()
				probed = true
			}
		}

		if statusJSON {
			out := map[string]any{
				"pending_count": pending,
				"failed_count":  failed,
				"expired_count": expired,
			}
			if probed {
				out["is_online"] = online
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if probed {
			if online {
				fmt.Println("Backend:  online")
			} else {
				fmt.Println("Backend:  offline (changes stay queued)")
			}
		}
		fmt.Printf("Pending:  %d\n", pending)
		fmt.Printf("Failed:   %d\n", failed)
		if expired > 0 {
			fmt.Printf("Expired:  %d (older than 7 days, still retrying)\n", expired)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}
