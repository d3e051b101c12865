// Package reconcile decides how a remote representation of a property and
// an optional pre-existing local record collapse into the one row that gets
// persisted.
//
// Two situations call for it. During a pull, every remote property is
// merged into the store (MergeRemote). After an outbound create, the
// server's response is folded back into the just-submitted record and the
// provisional identifier is remapped to the server-issued one
// (ConfirmCreate).
//
// In both cases the rules are the same for ownership: the remote value wins
// for every field the remote schema carries, the local value survives for
// every field it does not (frontage, photo set beyond the front photo). The
// merged row is always keyed by the confirmed identifier, and callers must
// persist the merged row before deleting any stale provisional row.
package reconcile

import "github.com/annk/fieldsync/internal/record"

// MergeRemote merges one remote property into the store state during a
// pull, or folds an update response back into its local record.
//
// existing may be nil (a property created on another device, or one whose
// local row was lost): the merged record is synthesized from remote fields
// with local-only fields defaulted. A successful pull means the remote is
// the agreed state, so sync status is forced to synced either way.
//
// staleID names the superseded row to delete when the merge rekeyed a
// record that was previously stored under a different (provisional)
// identifier; it is empty when no rekey happened.
func MergeRemote(rp *record.RemoteProperty, existing *record.PropertyRecord) (merged *record.PropertyRecord, staleID string) {
	now := record.NowMillis()

	createdAt := rp.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	updatedAt := rp.UpdatedAt
	if updatedAt == 0 {
		updatedAt = now
	}

	merged = &record.PropertyRecord{
		ID:             rp.ID,
		RemoteID:       rp.ID,
		Name:           rp.Name,
		Phone:          rp.Phone,
		Address:        rp.Address,
		Location:       rp.Location,
		Area:           rp.Area,
		PriceMin:       rp.PriceMin,
		PriceMax:       rp.PriceMax,
		Notes:          rp.Notes,
		RoofStatus:     rp.RoofStatus,
		LegalStatus:    rp.LegalStatus,
		PipelineStatus: rp.PipelineStatus,
		SyncStatus:     record.SyncSynced,
		Photos:         record.Photos{Front: rp.PhotoFrontURL},
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}

	if existing == nil {
		return merged, ""
	}

	// Local-only fields survive the merge.
	merged.Frontage = existing.Frontage
	merged.Photos.General = existing.Photos.General
	merged.Photos.Detail = existing.Photos.Detail
	if rp.PhotoFrontURL == "" {
		merged.Photos.Front = existing.Photos.Front
	}

	// First persist wins for created_at.
	if existing.CreatedAt != 0 {
		merged.CreatedAt = existing.CreatedAt
	}

	if existing.ID != merged.ID {
		staleID = existing.ID
	}
	return merged, staleID
}

// ConfirmCreate folds the server's create response back into the record
// that was just submitted.
//
// Unlike MergeRemote, the shared fields stay as the device sent them — the
// response echoes the submission — and only identity, pipeline stage and
// timestamps are taken from the server. The result is keyed by the server
// id; staleID names the provisional row to delete afterwards (empty when
// the submission already carried a confirmed id).
func ConfirmCreate(local *record.PropertyRecord, created *record.RemoteProperty) (merged *record.PropertyRecord, staleID string) {
	clone := *local
	merged = &clone

	merged.ID = created.ID
	merged.RemoteID = created.ID
	merged.PipelineStatus = created.PipelineStatus
	merged.SyncStatus = record.SyncSynced
	if created.CreatedAt != 0 {
		merged.CreatedAt = created.CreatedAt
	}
	if created.UpdatedAt != 0 {
		merged.UpdatedAt = created.UpdatedAt
	} else {
		merged.UpdatedAt = record.NowMillis()
	}

	if local.ID != merged.ID {
		staleID = local.ID
	}
	return merged, staleID
}
