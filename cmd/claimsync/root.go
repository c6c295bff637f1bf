package main

import (
	"fmt"

	"github.com/fieldside/claimsync/internal/config"
	"github.com/fieldside/claimsync/internal/queue"
	"github.com/fieldside/claimsync/internal/store"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "claimsync",
	Short: "Offline-first sync for field claim capture",
	Long: `claimsync keeps locally captured claim data (claims, photos, documents,
inspections, checklists) in sync with the remote system of record.

Mutations made while offline are queued durably and replayed once
connectivity returns; changes made on other devices arrive over a realtime
stream and are merged under last-write-wins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: claimsync.yaml in . or ~/.claimsync)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStore opens the local database and wraps the operation queue over it.
// The caller must Close the returned store.
func openStore(cfg *config.Config) (*store.DB, *queue.Queue, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, queue.New(db), nil
}
