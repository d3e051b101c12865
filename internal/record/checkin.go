package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadCheckInFile reads a completed check-in dropped into the inbox
// directory and normalizes it into a record ready for first persist: the
// record enters the pipeline as Submitted and sync status is forced to
// pending regardless of what the file claims. A file without an id gets
// one derived from its file name, so importing the same file twice (a
// crash between persist and file removal) lands on the same row.
func ReadCheckInFile(path string) (*PropertyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read check-in file %s: %w", path, err)
	}

	var rec PropertyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse check-in file %s: %w", path, err)
	}

	now := NowMillis()
	if rec.ID == "" {
		rec.ID = DerivedProvisionalID(filepath.Base(path))
	}
	rec.RemoteID = ""
	rec.PipelineStatus = PipelineSubmitted
	rec.SyncStatus = SyncPending
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.RoofStatus == "" {
		rec.RoofStatus = RoofUnknown
	}
	if rec.LegalStatus == "" {
		rec.LegalStatus = LegalUnknown
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid check-in file %s: %w", path, err)
	}

	return &rec, nil
}
