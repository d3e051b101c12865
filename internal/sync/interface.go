package sync

import (
	"context"

	"github.com/annk/fieldsync/internal/record"
)

// TransferClient performs the wire exchanges the engine needs. Implemented
// by the remote package; test doubles implement it with canned responses.
type TransferClient interface {
	// ListRemote fetches the full authoritative property list.
	ListRemote(ctx context.Context) ([]*record.RemoteProperty, error)

	// Create submits a new record and returns the server representation
	// carrying the server-assigned id. Not idempotent: a retry after a
	// lost response may duplicate the remote entity.
	Create(ctx context.Context, rec *record.PropertyRecord) (*record.RemoteProperty, error)

	// Update submits the shared fields of an existing remote entity.
	Update(ctx context.Context, remoteID string, rec *record.PropertyRecord) (*record.RemoteProperty, error)
}

// PushStats summarizes one push phase.
type PushStats struct {
	Attempted int `json:"attempted"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// PullStats summarizes one pull phase.
type PullStats struct {
	Fetched int `json:"fetched"`
	Merged  int `json:"merged"`
	Rekeyed int `json:"rekeyed"`

	// Skipped counts remote entries whose merged row failed validation
	// and was left out rather than poisoning the batch.
	Skipped int `json:"skipped"`
}

// Syncer drives sync cycles between the local store and the remote service.
//
// Per-record transfer failures never surface as errors from these methods;
// they are recorded on the record as sync status error and retried next
// cycle. A returned error means either the local store failed (fatal to the
// operation, nothing is silently lost) or, for PullRemote, that the remote
// list could not be fetched at all — a soft condition the caller may simply
// retry later.
type Syncer interface {
	// PushPending transfers every pending or error record outbound,
	// creating or updating as the record's identity demands, and
	// reconciles each server response back into the store.
	PushPending(ctx context.Context) (PushStats, error)

	// PullRemote fetches the full remote list and merges it into the
	// store as one atomic batch. Running it twice with no remote changes
	// in between leaves the store identical after the second run.
	PullRemote(ctx context.Context) (PullStats, error)

	// FullSync runs push then pull. The push result is returned even
	// when the pull fails, so callers can report partial progress.
	FullSync(ctx context.Context) (PushStats, PullStats, error)
}
