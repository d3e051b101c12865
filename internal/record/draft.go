package record

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Draft is the transient working state of the data-entry wizard, keyed by a
// session identifier. Every autosave supersedes the previous version; a
// successful submission deletes the draft.
type Draft struct {
	ID   string `json:"id"`
	Step int    `json:"step"`

	// Data holds the partial record as raw JSON. The engine never
	// interprets it; validation is the wizard's job.
	Data json.RawMessage `json:"data"`

	UpdatedAt int64 `json:"updated_at"`
}

// NewDraftID mints a wizard session identifier.
func NewDraftID() string {
	return "draft-" + uuid.NewString()
}
