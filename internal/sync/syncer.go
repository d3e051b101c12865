package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/annk/fieldsync/internal/reconcile"
	"github.com/annk/fieldsync/internal/record"
	"github.com/annk/fieldsync/internal/store"
)

// syncer implements the Syncer interface.
type syncer struct {
	store  *store.Store
	client TransferClient
	logger *log.Logger
}

// New creates a Syncer over the given store and transfer client.
//
// The store handle is passed in explicitly so tests can run isolated
// instances side by side. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, client TransferClient, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		store:  st,
		client: client,
		logger: logger,
	}
}

// PushPending implements Syncer.PushPending.
func (s *syncer) PushPending(ctx context.Context) (PushStats, error) {
	var stats PushStats

	pending, err := s.store.ListPendingOrError(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list pending records: %w", err)
	}

	for _, rec := range pending {
		stats.Attempted++

		// Identity routes the transfer: a remote id always means update;
		// a provisional id with no remote id means first create. A
		// confirmed-shaped id without a remote id (possible after manual
		// data edits) is treated as already known to the server.
		if rec.RemoteID == "" && record.IsProvisionalID(rec.ID) {
			if err := s.pushCreate(ctx, rec); err != nil {
				if perr := s.markError(ctx, rec.ID, err); perr != nil {
					return stats, perr
				}
				stats.Failed++
				continue
			}
			stats.Created++
		} else {
			if err := s.pushUpdate(ctx, rec); err != nil {
				if perr := s.markError(ctx, rec.ID, err); perr != nil {
					return stats, perr
				}
				stats.Failed++
				continue
			}
			stats.Updated++
		}
	}

	s.logger.Printf("Push complete: attempted=%d created=%d updated=%d failed=%d",
		stats.Attempted, stats.Created, stats.Updated, stats.Failed)

	return stats, nil
}

// pushCreate submits a never-confirmed record and remaps its identity to
// the server-issued one. The merged row is durably written under the new id
// before the provisional row is deleted.
//
// The reconciliation runs against the row as it is inside the store
// transaction, not against the snapshot read at the top of the cycle: a
// local edit that landed while the create was in flight is kept, and the
// row stays pending so the edit goes out on the next cycle.
func (s *syncer) pushCreate(ctx context.Context, rec *record.PropertyRecord) error {
	created, err := s.client.Create(ctx, rec)
	if err != nil {
		return fmt.Errorf("create failed for %s: %w", rec.ID, err)
	}

	err = s.store.ConfirmIdentity(ctx, rec.ID, func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		base, edited := rec, false
		if current != nil && *current != *rec {
			base, edited = current, true
		}
		merged, _ := reconcile.ConfirmCreate(base, created)
		if edited {
			merged.SyncStatus = record.SyncPending
			merged.UpdatedAt = base.UpdatedAt
		}
		return merged, nil
	})
	if err != nil {
		return fmt.Errorf("failed to confirm identity of %s: %w", rec.ID, err)
	}

	s.logger.Printf("Created %s as %s", rec.ID, created.ID)
	return nil
}

// pushUpdate submits an already-confirmed record and folds the server
// response back into its row. Like pushCreate, the reconciliation runs
// against the row inside the store transaction; when a local edit raced
// the transfer, the server response reflects a superseded submission, so
// the edited row is kept as is (identity aside) and pushed next cycle.
func (s *syncer) pushUpdate(ctx context.Context, rec *record.PropertyRecord) error {
	remoteID := rec.RemoteID
	if remoteID == "" {
		remoteID = rec.ID
	}

	updated, err := s.client.Update(ctx, remoteID, rec)
	if err != nil {
		return fmt.Errorf("update failed for %s: %w", rec.ID, err)
	}

	err = s.store.ConfirmIdentity(ctx, rec.ID, func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		if current != nil && *current != *rec {
			merged := *current
			merged.ID = updated.ID
			merged.RemoteID = updated.ID
			merged.SyncStatus = record.SyncPending
			return &merged, nil
		}
		merged, _ := reconcile.MergeRemote(updated, rec)
		return merged, nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist update of %s: %w", rec.ID, err)
	}

	s.logger.Printf("Updated %s", updated.ID)
	return nil
}

// markError flags a record for retry on the next cycle. A transfer failure
// is expected offline behavior and only logged; a store failure is not and
// propagates.
func (s *syncer) markError(ctx context.Context, id string, cause error) error {
	s.logger.Printf("WARNING: %v", cause)

	err := s.store.SetSyncStatus(ctx, id, record.SyncError)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to mark %s as error: %w", id, err)
	}
	return nil
}

// PullRemote implements Syncer.PullRemote.
func (s *syncer) PullRemote(ctx context.Context) (PullStats, error) {
	var stats PullStats

	remotes, err := s.client.ListRemote(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch remote list: %w", err)
	}
	stats.Fetched = len(remotes)

	res, err := s.store.ApplyPull(ctx, remotes, s.mergePulled)
	if err != nil {
		return stats, fmt.Errorf("failed to apply pull batch: %w", err)
	}
	stats.Merged = res.Merged
	stats.Rekeyed = res.Rekeyed
	stats.Skipped = len(res.Skipped)

	for _, id := range res.Skipped {
		s.logger.Printf("WARNING: skipped invalid remote record %s", id)
	}

	s.logger.Printf("Pull complete: fetched=%d merged=%d rekeyed=%d skipped=%d",
		stats.Fetched, stats.Merged, stats.Rekeyed, stats.Skipped)

	return stats, nil
}

// mergePulled decides how one remote property lands in the store. The
// store calls it with the local row read inside the pull transaction: by
// confirmed id first, then by remote_id reference, which recovers rows
// left under a provisional id by a crash between the confirmation write
// and the stale delete.
//
// A row holding an unpushed local change (pending or error) keeps its data
// and only has its identity confirmed — the next push carries the change
// out. Everything else takes the remote as the agreed state.
func (s *syncer) mergePulled(rp *record.RemoteProperty, existing *record.PropertyRecord) (*record.PropertyRecord, string) {
	if existing != nil && existing.SyncStatus != record.SyncSynced {
		merged := *existing
		merged.ID = rp.ID
		merged.RemoteID = rp.ID

		var staleID string
		if existing.ID != rp.ID {
			staleID = existing.ID
		}
		return &merged, staleID
	}
	return reconcile.MergeRemote(rp, existing)
}

// FullSync implements Syncer.FullSync.
func (s *syncer) FullSync(ctx context.Context) (PushStats, PullStats, error) {
	pushStats, err := s.PushPending(ctx)
	if err != nil {
		return pushStats, PullStats{}, err
	}

	pullStats, err := s.PullRemote(ctx)
	return pushStats, pullStats, err
}
