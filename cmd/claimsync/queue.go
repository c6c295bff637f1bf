package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and maintain the operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations, oldest first",
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

		entries, err := q.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		fmt.Printf("%-8s %-8s %-16s %-36s %-10s %s\n",
			"STATUS", "OP", "TABLE", "RECORD", "RETRIES", "AGE")
		for _, e := range entries {
			status := string(e.Status)
			if e.Expired() && e.Status != "completed" {
				status += "*"
			}
			fmt.Printf("%-8s %-8s %-16s %-36s %d/%-8d %s\n",
				status, e.Operation, e.TargetTable, e.RecordID,
				e.RetryCount, e.MaxRetries,
				time.Since(e.CreatedAt).Round(time.Second))
			if e.ErrorMessage != "" {
				fmt.Printf("         last error: %s\n", e.ErrorMessage)
			}
		}
		return nil
	},
}

var pruneOlderThan time.Duration

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete completed queue entries",
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

		pruned, err := q.PruneCompleted(cmd.Context(), pruneOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d completed entries\n", pruned)
		return nil
	},
}

func init() {
	queuePruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 24*time.Hour,
		"only prune entries completed longer ago than this")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}
