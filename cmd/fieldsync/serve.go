package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/annk/fieldsync/internal/daemon"
	"github.com/annk/fieldsync/internal/dashboard"
	"github.com/annk/fieldsync/internal/record"
	"github.com/annk/fieldsync/internal/remote"
	syncengine "github.com/annk/fieldsync/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and the local UI API",
	Long: `Run fieldsync as a long-lived agent:

  - periodic push-then-pull sync cycles (overlapping ticks are skipped)
  - inbox watcher importing dropped check-in JSON files
  - local HTTP API and WebSocket feed for the device UI

The agent starts and operates fully offline; sync resumes whenever the
remote service becomes reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		var logOut io.Writer = os.Stderr
		if cfg.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}
		}

		st := mustOpenStore(cfg)
		defer st.Close()

		client := remote.New(cfg.RemoteBaseURL, cfg.RemoteAPIKey)
		syncer := syncengine.New(st, client, log.New(logOut, "[sync] ", log.LstdFlags))

		server := dashboard.NewServer(st, nil, &dashboard.Config{
			Port:   cfg.ListenPort,
			Logger: log.New(logOut, "[api] ", log.LstdFlags),
		})

		daemonCfg := daemon.DefaultConfig()
		daemonCfg.SyncInterval = cfg.SyncInterval
		daemonCfg.Logger = log.New(logOut, "[daemon] ", log.LstdFlags)
		daemonCfg.OnCycle = server.BroadcastCycle
		daemonCfg.OnImport = func(rec *record.PropertyRecord) {
			server.BroadcastRecord(dashboard.EventRecordImported, dashboard.RecordData{
				ID:         rec.ID,
				Name:       rec.Name,
				SyncStatus: string(rec.SyncStatus),
			})
		}

		d, err := daemon.New(st, syncer, cfg.InboxDir, daemonCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}
		server.SetTrigger(d)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting local API: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("fieldsync serving on %s (remote: %s)\n", server.GetAddr(), cfg.RemoteBaseURL)

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
		}

		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping local API: %v\n", err)
		}
	},
}
