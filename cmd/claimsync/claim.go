package main

import (
	"fmt"
	"time"

	"github.com/fieldside/claimsync/internal/model"
	"github.com/fieldside/claimsync/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:     "claim",
	GroupID: "data",
	Short:   "Capture and list claims",
}

var (
	claimNumber      string
	claimInsured     string
	claimPolicy      string
	claimAddress     string
	claimLossType    string
	claimDescription string
)

var claimAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Capture a new claim locally",
	Long: `Capture a new claim. The claim is written to the local database and
queued for sync immediately; no connectivity is required.`,
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

		// No engine or monitor: a one-shot CLI write just queues; the
		// daemon or an explicit sync sends it.
		orch := orchestrator.New(db, q, nil, nil, nil)

		claim := &model.Claim{
			ID:           uuid.NewString(),
			ClaimNumber:  claimNumber,
			PolicyNumber: claimPolicy,
			InsuredName:  claimInsured,
			Address:      claimAddress,
			LossType:     claimLossType,
			Status:       "draft",
			Description:  claimDescription,
			CreatedAt:    time.Now().UTC(),
		}

		if err := orch.Create(cmd.Context(), claim); err != nil {
			return err
		}

		pending, err := orch.PendingSyncCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Created claim %s (%s)\n", claim.ClaimNumber, claim.ID)
		fmt.Printf("%d items pending sync\n", pending)
		return nil
	},
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally stored claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.List(cmd.Context(), model.TableClaims)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No claims")
			return nil
		}

		fmt.Printf("%-36s %-14s %-24s %-12s %s\n",
			"ID", "NUMBER", "INSURED", "STATUS", "SYNC")
		for _, row := range rows {
			rec, err := row.Record()
			if err != nil {
				return err
			}
			claim, ok := rec.(*model.Claim)
			if !ok {
				continue
			}
			fmt.Printf("%-36s %-14s %-24s %-12s %s\n",
				claim.ID, claim.ClaimNumber, claim.InsuredName,
				claim.Status, claim.SyncStatus)
		}
		return nil
	},
}

func init() {
	claimAddCmd.Flags().StringVar(&claimNumber, "number", "", "claim number (required)")
	claimAddCmd.Flags().StringVar(&claimInsured, "insured", "", "insured name (required)")
	claimAddCmd.Flags().StringVar(&claimPolicy, "policy", "", "policy number")
	claimAddCmd.Flags().StringVar(&claimAddress, "address", "", "loss address")
	claimAddCmd.Flags().StringVar(&claimLossType, "loss-type", "", "loss type (wind, hail, water, fire, other)")
	claimAddCmd.Flags().StringVar(&claimDescription, "description", "", "loss description")
	_ = claimAddCmd.MarkFlagRequired("number")
	_ = claimAddCmd.MarkFlagRequired("insured")

	claimCmd.AddCommand(claimAddCmd)
	claimCmd.AddCommand(claimListCmd)
	rootCmd.AddCommand(claimCmd)
}
