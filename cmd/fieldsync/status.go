package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/annk/fieldsync/internal/record"
	"github.com/annk/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store totals and records awaiting sync",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		st := mustOpenStore(cfg)
		defer st.Close()

		ctx := context.Background()

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading store: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Local store: %s\n", cfg.DatabasePath)
		fmt.Printf("  Total:   %d\n", counts.Total)
		fmt.Printf("  %s Synced:  %d\n", ui.RenderPass("✓"), counts.Synced)
		fmt.Printf("  %s Pending: %d\n", ui.RenderAccent("↻"), counts.Pending)
		fmt.Printf("  %s Error:   %d\n", ui.RenderFail("✗"), counts.Error)

		if counts.Pending == 0 && counts.Error == 0 {
			return
		}

		pending, err := st.ListPendingOrError(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing pending records: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("\nAwaiting sync:")
		for _, rec := range pending {
			marker := ui.RenderAccent("↻")
			if rec.SyncStatus == record.SyncError {
				marker = ui.RenderFail("✗")
			}

			kind := "update"
			if rec.RemoteID == "" && record.IsProvisionalID(rec.ID) {
				kind = "create"
			}

			age := time.Since(time.UnixMilli(rec.UpdatedAt)).Round(time.Second)
			fmt.Printf("  %s %-40s %-7s %s (%v ago)\n",
				marker, rec.ID, kind, ui.RenderMuted(rec.Name), age)
		}
	},
}
