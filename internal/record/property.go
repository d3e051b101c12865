// Package record defines the domain model for field-collected property data.
//
// A PropertyRecord is the unit of reconciliation between the device-local
// store and the remote property service. Records are created offline with a
// provisional identifier and later confirmed against the server-issued one;
// the RemoteProperty type is the already-translated view of the remote wire
// representation (epoch-millisecond timestamps, local enum values).
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks where a record stands relative to the remote store.
// It is owned by the device and drives orchestrator behavior.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// PipelineStatus is the business-process stage of a property.
// Once a record has synced, the remote service owns this field.
type PipelineStatus string

const (
	PipelineNew       PipelineStatus = "New"
	PipelineSubmitted PipelineStatus = "Submitted"
	PipelineDone      PipelineStatus = "Done"
)

// RoofStatus describes the roof/structure condition of a property.
type RoofStatus string

const (
	RoofYes     RoofStatus = "yes"
	RoofPartial RoofStatus = "partial"
	RoofNo      RoofStatus = "no"
	RoofUnknown RoofStatus = "unknown"
)

// LegalStatus describes the paperwork situation of a property.
type LegalStatus string

const (
	LegalUnknown LegalStatus = "unknown"
	LegalVerbal  LegalStatus = "verbal"
	LegalPink    LegalStatus = "pink"
	LegalRed     LegalStatus = "red"
)

// Location is a GPS fix captured at check-in time.
type Location struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Photos holds the photo set of a record. Each slot is either a local file
// path (captured on device, not yet uploaded) or an https URL once the
// remote service has a copy. Only the front photo exists in the remote
// schema; general and detail are local-only.
type Photos struct {
	Front   string `json:"front"`
	General string `json:"general,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// PropertyRecord is a property as persisted in the local store.
//
// ID is the primary key. Before the record has ever reached the server it is
// a provisional id (prop-<uuid>); after outbound confirmation it equals the
// server id and RemoteID is set to the same value.
type PropertyRecord struct {
	ID       string `json:"id"`
	RemoteID string `json:"remote_id,omitempty"`

	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`

	Location Location `json:"location"`

	Area     float64 `json:"area"`
	PriceMin float64 `json:"price_min"`
	PriceMax float64 `json:"price_max"`

	// Frontage is captured on device only; the remote schema has no such
	// field and merges must carry it forward from the local record.
	Frontage float64 `json:"frontage"`

	Photos Photos `json:"photos"`

	RoofStatus  RoofStatus  `json:"roof_status,omitempty"`
	LegalStatus LegalStatus `json:"legal_status,omitempty"`
	Notes       string      `json:"notes,omitempty"`

	PipelineStatus PipelineStatus `json:"pipeline_status"`
	SyncStatus     SyncStatus     `json:"sync_status"`

	// Epoch milliseconds. CreatedAt is immutable after first persist;
	// UpdatedAt advances on every local or reconciled mutation.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// provisionalPrefix marks locally minted identifiers that have not been
// accepted by the remote service yet.
const provisionalPrefix = "prop-"

// NewProvisionalID mints a local-only record identifier.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// DerivedProvisionalID mints a provisional identifier deterministically
// from a source name, such as a check-in file name. Reading the same
// source twice yields the same id, so a re-import after a crash upserts
// the existing row instead of duplicating it.
func DerivedProvisionalID(name string) string {
	return provisionalPrefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// IsProvisionalID reports whether id was minted locally and has not been
// superseded by a server id. Server ids never carry the prefix.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Confirmed reports whether the record carries a server identity.
func (p *PropertyRecord) Confirmed() bool {
	return p.RemoteID != ""
}

// Validate checks the invariants the store relies on.
func (p *PropertyRecord) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.SyncStatus == "" {
		return fmt.Errorf("sync_status is required")
	}
	switch p.SyncStatus {
	case SyncPending, SyncSynced, SyncError:
	default:
		return fmt.Errorf("invalid sync_status %q", p.SyncStatus)
	}
	if p.SyncStatus == SyncSynced && p.RemoteID == "" {
		return fmt.Errorf("synced record must carry a remote id")
	}
	if p.PipelineStatus == "" {
		return fmt.Errorf("pipeline_status is required")
	}
	if p.CreatedAt == 0 {
		return fmt.Errorf("created_at is required")
	}
	if p.UpdatedAt == 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// NowMillis returns the current time in epoch milliseconds, the unit used
// for all local timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
