package reconcile

import (
	"testing"

	"github.com/annk/fieldsync/internal/record"
)

func remoteFixture() *record.RemoteProperty {
	return &record.RemoteProperty{
		ID:             "abc123",
		Name:           "Remote name",
		Phone:          "555-0200",
		Address:        "9 Harbor St",
		Location:       record.Location{Lat: 10.76, Lng: 106.66, Accuracy: 8},
		Area:           900,
		PriceMin:       120000,
		PriceMax:       180000,
		Notes:          "remote notes",
		RoofStatus:     record.RoofYes,
		LegalStatus:    record.LegalRed,
		PipelineStatus: record.PipelineDone,
		PhotoFrontURL:  "https://cdn.example.com/front.jpg",
		CreatedAt:      1700000000000,
		UpdatedAt:      1700000100000,
	}
}

func localFixture() *record.PropertyRecord {
	return &record.PropertyRecord{
		ID:             "prop-11111111-2222-3333-4444-555555555555",
		Name:           "Local name",
		Phone:          "555-0100",
		Frontage:       42,
		Photos:         record.Photos{Front: "/photos/front.jpg", General: "/photos/general.jpg", Detail: "/photos/detail.jpg"},
		RoofStatus:     record.RoofUnknown,
		LegalStatus:    record.LegalUnknown,
		PipelineStatus: record.PipelineSubmitted,
		SyncStatus:     record.SyncPending,
		CreatedAt:      1699999000000,
		UpdatedAt:      1699999000000,
	}
}

func TestMergeRemoteWithExisting(t *testing.T) {
	rp := remoteFixture()
	existing := localFixture()

	merged, staleID := MergeRemote(rp, existing)

	// Remote wins every field it carries.
	if merged.Name != "Remote name" {
		t.Errorf("Expected remote name, got %q", merged.Name)
	}
	if merged.PipelineStatus != record.PipelineDone {
		t.Errorf("Expected remote pipeline status, got %q", merged.PipelineStatus)
	}
	if merged.RoofStatus != record.RoofYes || merged.LegalStatus != record.LegalRed {
		t.Errorf("Expected remote roof/legal, got %q/%q", merged.RoofStatus, merged.LegalStatus)
	}

	// Local-only fields survive.
	if merged.Frontage != 42 {
		t.Errorf("Expected local frontage preserved, got %v", merged.Frontage)
	}
	if merged.Photos.General != "/photos/general.jpg" || merged.Photos.Detail != "/photos/detail.jpg" {
		t.Errorf("Expected local gallery photos preserved, got %+v", merged.Photos)
	}

	// Remote front URL beats the local file path.
	if merged.Photos.Front != "https://cdn.example.com/front.jpg" {
		t.Errorf("Expected remote front photo, got %q", merged.Photos.Front)
	}

	// Identity and sync state.
	if merged.ID != "abc123" || merged.RemoteID != "abc123" {
		t.Errorf("Expected confirmed identity, got id=%s remote=%s", merged.ID, merged.RemoteID)
	}
	if merged.SyncStatus != record.SyncSynced {
		t.Errorf("Expected synced, got %q", merged.SyncStatus)
	}
	if staleID != existing.ID {
		t.Errorf("Expected stale id %s, got %s", existing.ID, staleID)
	}

	// First persist wins for created_at.
	if merged.CreatedAt != existing.CreatedAt {
		t.Errorf("Expected local created_at kept, got %d", merged.CreatedAt)
	}
}

func TestMergeRemoteKeepsLocalFrontPhoto(t *testing.T) {
	rp := remoteFixture()
	rp.PhotoFrontURL = ""
	existing := localFixture()

	merged, _ := MergeRemote(rp, existing)
	if merged.Photos.Front != "/photos/front.jpg" {
		t.Errorf("Expected local front photo kept when remote has none, got %q", merged.Photos.Front)
	}
}

func TestMergeRemoteSynthesizes(t *testing.T) {
	rp := remoteFixture()

	merged, staleID := MergeRemote(rp, nil)

	if staleID != "" {
		t.Errorf("Expected no stale id, got %q", staleID)
	}
	if merged.ID != "abc123" || merged.RemoteID != "abc123" {
		t.Errorf("Expected remote identity, got id=%s remote=%s", merged.ID, merged.RemoteID)
	}
	if merged.SyncStatus != record.SyncSynced {
		t.Errorf("Expected synced, got %q", merged.SyncStatus)
	}
	if merged.Frontage != 0 {
		t.Errorf("Expected zero frontage for synthesized record, got %v", merged.Frontage)
	}
	if merged.CreatedAt != rp.CreatedAt || merged.UpdatedAt != rp.UpdatedAt {
		t.Errorf("Expected remote timestamps, got %d/%d", merged.CreatedAt, merged.UpdatedAt)
	}
	if err := merged.Validate(); err != nil {
		t.Errorf("Expected synthesized record to validate, got %v", err)
	}
}

func TestMergeRemoteNoRekeyWhenIDMatches(t *testing.T) {
	rp := remoteFixture()
	existing := localFixture()
	existing.ID = rp.ID
	existing.RemoteID = rp.ID

	_, staleID := MergeRemote(rp, existing)
	if staleID != "" {
		t.Errorf("Expected no rekey, got stale id %q", staleID)
	}
}

func TestMergeRemoteZeroTimestamps(t *testing.T) {
	rp := remoteFixture()
	rp.CreatedAt = 0
	rp.UpdatedAt = 0

	merged, _ := MergeRemote(rp, nil)
	if merged.CreatedAt == 0 || merged.UpdatedAt == 0 {
		t.Error("Expected zero remote timestamps replaced with now")
	}
}

func TestConfirmCreate(t *testing.T) {
	local := localFixture()
	created := &record.RemoteProperty{
		ID:             "abc123",
		Name:           "Echoed name nobody reads",
		PipelineStatus: record.PipelineNew,
		CreatedAt:      1700000000000,
		UpdatedAt:      1700000000000,
	}

	merged, staleID := ConfirmCreate(local, created)

	// Shared fields stay as submitted.
	if merged.Name != "Local name" {
		t.Errorf("Expected submitted name kept, got %q", merged.Name)
	}
	if merged.Frontage != 42 {
		t.Errorf("Expected frontage kept, got %v", merged.Frontage)
	}
	if merged.Photos.General != "/photos/general.jpg" {
		t.Errorf("Expected photos kept, got %+v", merged.Photos)
	}

	// Identity, pipeline stage and timestamps come from the server.
	if merged.ID != "abc123" || merged.RemoteID != "abc123" {
		t.Errorf("Expected server identity, got id=%s remote=%s", merged.ID, merged.RemoteID)
	}
	if merged.PipelineStatus != record.PipelineNew {
		t.Errorf("Expected server pipeline status, got %q", merged.PipelineStatus)
	}
	if merged.SyncStatus != record.SyncSynced {
		t.Errorf("Expected synced, got %q", merged.SyncStatus)
	}
	if merged.CreatedAt != 1700000000000 {
		t.Errorf("Expected server created_at, got %d", merged.CreatedAt)
	}
	if staleID != local.ID {
		t.Errorf("Expected stale id %s, got %s", local.ID, staleID)
	}

	// Input record untouched.
	if local.ID != "prop-11111111-2222-3333-4444-555555555555" || local.SyncStatus != record.SyncPending {
		t.Error("Expected local record left unmodified")
	}
}

func TestConfirmCreateNoRekey(t *testing.T) {
	local := localFixture()
	local.ID = "abc123"

	merged, staleID := ConfirmCreate(local, &record.RemoteProperty{
		ID:             "abc123",
		PipelineStatus: record.PipelineNew,
	})

	if staleID != "" {
		t.Errorf("Expected no stale id, got %q", staleID)
	}
	if merged.UpdatedAt == 0 {
		t.Error("Expected updated_at stamped when server omits it")
	}
}
