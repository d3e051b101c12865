// Command fieldsync is the device-side sync agent for field-collected
// property records: an embedded local store, a background reconciliation
// daemon against the remote property service, and a local API for the UI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/annk/fieldsync/internal/config"
	"github.com/annk/fieldsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first property record sync agent",
	Long: `fieldsync keeps field-collected property records safe on device and
reconciles them with the remote property service whenever connectivity
allows.

Records are created locally under provisional identifiers and never wait
for the network; the sync engine later confirms them against the
server-issued identity without duplicating or losing local-only fields.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: fieldsync.yaml in . or ~/.fieldsync)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// mustLoadConfig resolves configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// mustOpenStore opens the local database or exits.
func mustOpenStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
		os.Exit(1)
	}
	return st
}
