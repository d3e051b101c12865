// Package daemon provides the long-running sync agent: a periodic
// push-then-pull cycle against the remote service plus an inbox watcher
// that turns dropped check-in files into pending records.
//
// The daemon:
//  1. Sweeps and watches the inbox directory for check-in JSON files
//  2. Runs a full sync cycle on a fixed interval and on demand
//  3. Guarantees cycles never overlap (late ticks are skipped)
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/annk/fieldsync/internal/record"
	"github.com/annk/fieldsync/internal/store"
	"github.com/annk/fieldsync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a full cycle runs. The pipeline screen
	// refreshes on the same cadence.
	SyncInterval time.Duration

	// DebounceInterval is how long an inbox file must sit quiet before it
	// is imported. This keeps half-written drops out of the store.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger

	// OnCycle, if set, is invoked after every completed cycle with its
	// stats; err is non-nil when the pull phase failed outright.
	OnCycle func(push sync.PushStats, pull sync.PullStats, err error)

	// OnImport, if set, is invoked after a check-in file has been
	// durably imported.
	OnImport func(rec *record.PropertyRecord)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the periodic sync loop and the inbox importer.
type Daemon struct {
	store    *store.Store
	syncer   sync.Syncer
	inboxDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu gosync.Mutex

	// syncMu is the single-flight gate: a cycle holds it for its whole
	// duration, ticker ticks that cannot take it are dropped.
	syncMu gosync.Mutex
	kick   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a Daemon. inboxDir may be empty to disable the importer.
func New(st *store.Store, syncer sync.Syncer, inboxDir string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		syncer:      syncer,
		inboxDir:    inboxDir,
		config:      config,
		changeQueue: make(map[string]time.Time),
		kick:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins operation and blocks until ctx is cancelled.
//
// The initial cycle runs immediately; its failure is expected when the
// device starts offline and is only logged. Local operation never waits
// for the network.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.inboxDir != "" {
		if err := os.MkdirAll(d.inboxDir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		if err := d.watcher.Add(d.inboxDir); err != nil {
			return fmt.Errorf("failed to watch inbox directory: %w", err)
		}

		d.sweepInbox()
		d.config.Logger.Printf("Watching inbox: %s", d.inboxDir)

		d.wg.Add(2)
		go d.watchInboxEvents()
		go d.processChangeQueue()
	}

	d.runCycle()

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. The in-flight cycle, if any,
// completes; there is no way to cancel work already submitted.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Kick requests a cycle as soon as the current one (if any) finishes.
// Non-blocking; multiple kicks coalesce into one cycle.
func (d *Daemon) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// SyncNow runs one full cycle synchronously, serialized against the timer
// loop through the same gate, and returns its result. This backs the
// manual "sync now" action.
func (d *Daemon) SyncNow(ctx context.Context) (sync.PushStats, sync.PullStats, error) {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	push, pull, err := d.syncer.FullSync(ctx)
	if d.config.OnCycle != nil {
		d.config.OnCycle(push, pull, err)
	}
	return push, pull, err
}

// syncLoop runs cycles on the timer and on kicks.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runCycle()

		case <-d.kick:
			d.runCycle()
		}
	}
}

// runCycle executes one full sync cycle unless one is already in flight,
// in which case the trigger is dropped rather than queued. A total failure
// of the cycle is logged and swallowed: local state stays exactly as it
// was and the next tick tries again.
func (d *Daemon) runCycle() {
	if !d.syncMu.TryLock() {
		d.config.Logger.Println("Cycle already in flight, skipping tick")
		return
	}
	defer d.syncMu.Unlock()

	push, pull, err := d.syncer.FullSync(d.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.config.Logger.Printf("Cycle incomplete: %v", err)
	}

	if d.config.OnCycle != nil {
		d.config.OnCycle(push, pull, err)
	}
}

// watchInboxEvents monitors filesystem events and queues check-in files.
func (d *Daemon) watchInboxEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	imported := false
	for _, path := range ready {
		if err := d.ImportCheckInFile(path); err != nil {
			d.config.Logger.Printf("WARNING: failed to import %s: %v", filepath.Base(path), err)
			continue
		}
		imported = true
	}

	if imported {
		d.Kick()
	}
}

// sweepInbox imports whatever was dropped while the daemon was not running.
func (d *Daemon) sweepInbox() {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		d.config.Logger.Printf("WARNING: failed to read inbox: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(d.inboxDir, entry.Name())
		if err := d.ImportCheckInFile(path); err != nil {
			d.config.Logger.Printf("WARNING: failed to import %s: %v", entry.Name(), err)
		}
	}
}

// ImportCheckInFile reads one check-in file, persists it as a pending
// record and removes the file. The file is only removed after the record
// is durably stored; a crash in between re-imports it on the next sweep,
// which the upsert absorbs — files without an id get one derived from
// their file name, so the re-import lands on the same row.
func (d *Daemon) ImportCheckInFile(path string) error {
	rec, err := record.ReadCheckInFile(path)
	if err != nil {
		return err
	}

	if err := d.store.Put(d.ctx, rec); err != nil {
		return fmt.Errorf("failed to persist check-in %s: %w", rec.ID, err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.config.Logger.Printf("WARNING: failed to remove imported file %s: %v", path, err)
	}

	d.config.Logger.Printf("Imported check-in %s (%s)", rec.ID, rec.Name)

	if d.config.OnImport != nil {
		d.config.OnImport(rec)
	}
	return nil
}
