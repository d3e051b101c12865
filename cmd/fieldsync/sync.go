package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/annk/fieldsync/internal/remote"
	syncengine "github.com/annk/fieldsync/internal/sync"
	"github.com/annk/fieldsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync cycle (push pending, then pull remote)",
	Long: `Run a single sync cycle against the remote property service:

  1. Push every pending or error record (create or update)
  2. Confirm server-issued identities back into the local store
  3. Pull the full remote list and merge it locally

Per-record transfer failures mark the record for retry and do not abort
the cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		st := mustOpenStore(cfg)
		defer st.Close()

		client := remote.New(cfg.RemoteBaseURL, cfg.RemoteAPIKey)
		syncer := syncengine.New(st, client, nil)

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("↻"), cfg.RemoteBaseURL)
		start := time.Now()

		push, pull, err := syncer.FullSync(context.Background())

		fmt.Printf("   Pushed: %d created, %d updated, %d failed\n",
			push.Created, push.Updated, push.Failed)
		fmt.Printf("   Pulled: %d records, %d merged, %d rekeyed\n",
			pull.Fetched, pull.Merged, pull.Rekeyed)
		if pull.Skipped > 0 {
			fmt.Printf("%s Skipped %d invalid remote record(s)\n", ui.RenderWarn("!"), pull.Skipped)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync incomplete: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		if push.Failed > 0 {
			fmt.Printf("%s Sync finished with %d record(s) left in error (retried next cycle)\n",
				ui.RenderWarn("!"), push.Failed)
			return
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}
