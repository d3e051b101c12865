package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/annk/fieldsync/internal/record"
)

// newTestStore creates a store backed by a temp database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "fieldsync.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return st
}

// newTestRecord builds a valid pending record with a provisional id.
func newTestRecord(t *testing.T, name string) *record.PropertyRecord {
	t.Helper()

	now := record.NowMillis()
	return &record.PropertyRecord{
		ID:             record.NewProvisionalID(),
		Name:           name,
		Phone:          "555-0100",
		Address:        "12 Canal Rd",
		Location:       record.Location{Lat: 10.7626, Lng: 106.6602, Accuracy: 5},
		Area:           850,
		PriceMin:       100000,
		PriceMax:       150000,
		Frontage:       12.5,
		Photos:         record.Photos{Front: "/photos/front.jpg", General: "/photos/general.jpg"},
		RoofStatus:     record.RoofPartial,
		LegalStatus:    record.LegalPink,
		Notes:          "corner plot",
		PipelineStatus: record.PipelineSubmitted,
		SyncStatus:     record.SyncPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPutAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Canal plot")
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Name != rec.Name {
		t.Errorf("Expected name %q, got %q", rec.Name, got.Name)
	}
	if got.Frontage != rec.Frontage {
		t.Errorf("Expected frontage %v, got %v", rec.Frontage, got.Frontage)
	}
	if got.Photos.General != rec.Photos.General {
		t.Errorf("Expected general photo %q, got %q", rec.Photos.General, got.Photos.General)
	}
	if got.Location.Lat != rec.Location.Lat || got.Location.Lng != rec.Location.Lng {
		t.Errorf("Expected location %+v, got %+v", rec.Location, got.Location)
	}
	if got.SyncStatus != record.SyncPending {
		t.Errorf("Expected sync status pending, got %q", got.SyncStatus)
	}
}

func TestPutUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Before")
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec.Name = "After"
	rec.Notes = "renegotiated"
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "After" || got.Notes != "renegotiated" {
		t.Errorf("Expected upserted values, got name=%q notes=%q", got.Name, got.Notes)
	}

	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 record after upsert, got %d", len(all))
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	st := newTestStore(t)

	rec := newTestRecord(t, "Nameless")
	rec.Name = ""
	if err := st.Put(context.Background(), rec); err == nil {
		t.Error("Expected validation error, got nil")
	}
}

func TestGetNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), "prop-does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFindByRemoteID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Linked")
	rec.RemoteID = "abc123"
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := st.FindByRemoteID(ctx, "abc123")
	if err != nil {
		t.Fatalf("FindByRemoteID failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("Expected id %s, got %s", rec.ID, got.ID)
	}

	if _, err := st.FindByRemoteID(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown remote id, got %v", err)
	}
	if _, err := st.FindByRemoteID(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty remote id, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := newTestRecord(t, fmt.Sprintf("Plot %d", i))
		rec.CreatedAt = int64(1000 * (i + 1))
		rec.UpdatedAt = rec.CreatedAt
		if err := st.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].Name != "Plot 2" || all[2].Name != "Plot 0" {
		t.Errorf("Expected newest first, got %s .. %s", all[0].Name, all[2].Name)
	}
}

func TestListPendingOrError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending := newTestRecord(t, "Pending")
	pending.CreatedAt = 2000
	pending.UpdatedAt = 2000

	failed := newTestRecord(t, "Failed")
	failed.SyncStatus = record.SyncError
	failed.CreatedAt = 1000
	failed.UpdatedAt = 1000

	synced := newTestRecord(t, "Synced")
	synced.RemoteID = "abc123"
	synced.SyncStatus = record.SyncSynced

	for _, rec := range []*record.PropertyRecord{pending, failed, synced} {
		if err := st.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := st.ListPendingOrError(ctx)
	if err != nil {
		t.Fatalf("ListPendingOrError failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	// Oldest first.
	if got[0].Name != "Failed" || got[1].Name != "Pending" {
		t.Errorf("Expected [Failed Pending], got [%s %s]", got[0].Name, got[1].Name)
	}
}

func TestListNearby(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	near := newTestRecord(t, "Near")
	near.Location = record.Location{Lat: 10.7626, Lng: 106.6602}

	far := newTestRecord(t, "Far")
	far.Location = record.Location{Lat: 51.5074, Lng: -0.1278}

	noFix := newTestRecord(t, "NoFix")
	noFix.Location = record.Location{}

	for _, rec := range []*record.PropertyRecord{near, far, noFix} {
		if err := st.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Prefix of the geohash for (10.7626, 106.6602).
	got, err := st.ListNearby(ctx, "w3gv")
	if err != nil {
		t.Fatalf("ListNearby failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 nearby record, got %d", len(got))
	}
	if got[0].Name != "Near" {
		t.Errorf("Expected Near, got %s", got[0].Name)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Doomed")
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := st.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete(ctx, rec.ID); err != nil {
		t.Errorf("Expected second delete to be a no-op, got %v", err)
	}
	if _, err := st.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected record gone, got %v", err)
	}
}

func TestSetSyncStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Flagged")
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := st.SetSyncStatus(ctx, rec.ID, record.SyncError); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SyncStatus != record.SyncError {
		t.Errorf("Expected sync status error, got %q", got.SyncStatus)
	}
	if got.UpdatedAt < rec.UpdatedAt {
		t.Error("Expected updated_at to advance")
	}

	if err := st.SetSyncStatus(ctx, "prop-missing", record.SyncError); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestConfirmIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	local := newTestRecord(t, "Provisional")
	if err := st.Put(ctx, local); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	err := st.ConfirmIdentity(ctx, local.ID, func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		if current == nil || current.ID != local.ID {
			t.Errorf("Expected the stored row passed to fn, got %+v", current)
		}
		merged := *current
		merged.ID = "abc123"
		merged.RemoteID = "abc123"
		merged.SyncStatus = record.SyncSynced
		return &merged, nil
	})
	if err != nil {
		t.Fatalf("ConfirmIdentity failed: %v", err)
	}

	// Exactly one row survives, under the confirmed id.
	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 record after confirmation, got %d", len(all))
	}
	if all[0].ID != "abc123" || all[0].RemoteID != "abc123" {
		t.Errorf("Expected confirmed identity, got id=%s remote=%s", all[0].ID, all[0].RemoteID)
	}
	if all[0].Frontage != local.Frontage {
		t.Errorf("Expected frontage carried through, got %v", all[0].Frontage)
	}

	if _, err := st.Get(ctx, local.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected provisional row deleted, got %v", err)
	}
}

func TestConfirmIdentitySameID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord(t, "Already confirmed")
	rec.ID = "abc123"
	rec.RemoteID = "abc123"
	rec.SyncStatus = record.SyncSynced
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	err := st.ConfirmIdentity(ctx, rec.ID, func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		merged := *current
		merged.Notes = "freshened"
		return &merged, nil
	})
	if err != nil {
		t.Fatalf("ConfirmIdentity failed: %v", err)
	}

	got, err := st.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Notes != "freshened" {
		t.Errorf("Expected updated notes, got %q", got.Notes)
	}

	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 record, got %d", len(all))
	}
}

func TestConfirmIdentitySeesLatestRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	local := newTestRecord(t, "Original")
	if err := st.Put(ctx, local); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The caller holds a stale snapshot; the row changes underneath it.
	edited := *local
	edited.Notes = "edited underneath"
	edited.UpdatedAt = local.UpdatedAt + 1
	if err := st.Put(ctx, &edited); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	err := st.ConfirmIdentity(ctx, local.ID, func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		if current == nil || current.Notes != "edited underneath" {
			t.Errorf("Expected fn to see the latest row, got %+v", current)
		}
		merged := *current
		merged.ID = "abc123"
		merged.RemoteID = "abc123"
		merged.SyncStatus = record.SyncSynced
		return &merged, nil
	})
	if err != nil {
		t.Fatalf("ConfirmIdentity failed: %v", err)
	}
}

func TestConfirmIdentityMissingRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	called := false
	err := st.ConfirmIdentity(ctx, "prop-gone", func(current *record.PropertyRecord) (*record.PropertyRecord, error) {
		called = true
		if current != nil {
			t.Errorf("Expected nil current for a missing row, got %+v", current)
		}
		rec := newTestRecord(t, "Recreated")
		rec.ID = "abc123"
		rec.RemoteID = "abc123"
		rec.SyncStatus = record.SyncSynced
		return rec, nil
	})
	if err != nil {
		t.Fatalf("ConfirmIdentity failed: %v", err)
	}
	if !called {
		t.Fatal("Expected fn to be called")
	}
	if _, err := st.Get(ctx, "abc123"); err != nil {
		t.Errorf("Expected merged record written: %v", err)
	}
}

func TestConfirmIdentityFnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	local := newTestRecord(t, "Untouched")
	if err := st.Put(ctx, local); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	boom := errors.New("merge failed")
	err := st.ConfirmIdentity(ctx, local.ID, func(*record.PropertyRecord) (*record.PropertyRecord, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error propagated, got %v", err)
	}

	got, err := st.Get(ctx, local.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Untouched" {
		t.Errorf("Expected row untouched, got %q", got.Name)
	}
}

// remoteWinsMerge is a minimal merge for pull tests: the remote copy
// wins wholesale, rows found under a different local id are rekeyed.
func remoteWinsMerge(rp *record.RemoteProperty, existing *record.PropertyRecord) (*record.PropertyRecord, string) {
	now := record.NowMillis()
	merged := &record.PropertyRecord{
		ID:             rp.ID,
		RemoteID:       rp.ID,
		Name:           rp.Name,
		RoofStatus:     record.RoofUnknown,
		LegalStatus:    record.LegalUnknown,
		PipelineStatus: record.PipelineNew,
		SyncStatus:     record.SyncSynced,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil && existing.ID != rp.ID {
		return merged, existing.ID
	}
	return merged, ""
}

func TestApplyPull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A row still under its provisional id but already linked to the
	// server id; the pull finds it by remote_id and rekeys it.
	stale := newTestRecord(t, "Stale provisional")
	stale.RemoteID = "abc123"
	if err := st.Put(ctx, stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	remotes := []*record.RemoteProperty{
		{ID: "abc123", Name: "Stale provisional"},
		{ID: "def456", Name: "Remote only"},
	}

	res, err := st.ApplyPull(ctx, remotes, remoteWinsMerge)
	if err != nil {
		t.Fatalf("ApplyPull failed: %v", err)
	}
	if res.Merged != 2 || res.Rekeyed != 1 || len(res.Skipped) != 0 {
		t.Errorf("Unexpected pull result: %+v", res)
	}

	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 records after pull, got %d", len(all))
	}
	if _, err := st.Get(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected stale provisional deleted, got %v", err)
	}
	if _, err := st.Get(ctx, "def456"); err != nil {
		t.Errorf("Expected remote-only record present: %v", err)
	}
}

func TestApplyPullEmpty(t *testing.T) {
	st := newTestStore(t)

	res, err := st.ApplyPull(context.Background(), nil, remoteWinsMerge)
	if err != nil {
		t.Errorf("Expected empty pull to be a no-op, got %v", err)
	}
	if res.Merged != 0 || res.Rekeyed != 0 || len(res.Skipped) != 0 {
		t.Errorf("Expected zero result, got %+v", res)
	}
}

func TestApplyPullSkipsInvalid(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A nameless remote entry merges into a row that fails validation.
	// It must not take the rest of the batch down with it.
	remotes := []*record.RemoteProperty{
		{ID: "ghost"},
		{ID: "abc123", Name: "Good"},
	}

	res, err := st.ApplyPull(ctx, remotes, remoteWinsMerge)
	if err != nil {
		t.Fatalf("ApplyPull failed: %v", err)
	}
	if res.Merged != 1 {
		t.Errorf("Expected 1 merged record, got %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "ghost" {
		t.Errorf("Expected ghost skipped, got %v", res.Skipped)
	}

	if _, err := st.Get(ctx, "abc123"); err != nil {
		t.Errorf("Expected good record persisted: %v", err)
	}
	if _, err := st.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ghost absent, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending := newTestRecord(t, "P")
	failed := newTestRecord(t, "E")
	failed.SyncStatus = record.SyncError
	synced := newTestRecord(t, "S")
	synced.RemoteID = "abc123"
	synced.SyncStatus = record.SyncSynced

	for _, rec := range []*record.PropertyRecord{pending, failed, synced} {
		if err := st.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts.Total != 3 || counts.Pending != 1 || counts.Error != 1 || counts.Synced != 1 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
}

func TestDrafts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	draft := &record.Draft{
		ID:   record.NewDraftID(),
		Step: 2,
		Data: []byte(`{"name":"Half-done"}`),
	}

	if err := st.PutDraft(ctx, draft); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}

	got, err := st.GetDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if got.Step != 2 {
		t.Errorf("Expected step 2, got %d", got.Step)
	}
	if string(got.Data) != `{"name":"Half-done"}` {
		t.Errorf("Unexpected draft data: %s", got.Data)
	}
	if got.UpdatedAt == 0 {
		t.Error("Expected server-side updated_at stamp")
	}

	// Autosave supersedes.
	draft.Step = 3
	draft.Data = []byte(`{"name":"Nearly done"}`)
	if err := st.PutDraft(ctx, draft); err != nil {
		t.Fatalf("Second PutDraft failed: %v", err)
	}
	got, err = st.GetDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if got.Step != 3 {
		t.Errorf("Expected step 3 after autosave, got %d", got.Step)
	}

	if err := st.DeleteDraft(ctx, draft.ID); err != nil {
		t.Fatalf("DeleteDraft failed: %v", err)
	}
	if _, err := st.GetDraft(ctx, draft.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := st.DeleteDraft(ctx, draft.ID); err != nil {
		t.Errorf("Expected delete to be idempotent, got %v", err)
	}
}

func TestPutDraftDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	draft := &record.Draft{ID: record.NewDraftID()}
	if err := st.PutDraft(ctx, draft); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}

	got, err := st.GetDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if string(got.Data) != "{}" {
		t.Errorf("Expected empty object default, got %s", got.Data)
	}

	if err := st.PutDraft(ctx, &record.Draft{}); err == nil {
		t.Error("Expected error for draft without id")
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "fieldsync.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	if err := st.Put(context.Background(), newTestRecord(t, "Nested")); err != nil {
		t.Errorf("Put on nested path failed: %v", err)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec := newTestRecord(t, "Durable")
	if err := st.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer st2.Close()

	got, err := st2.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Name != "Durable" {
		t.Errorf("Expected record to survive reopen, got %q", got.Name)
	}
}
