package remote

import (
	"time"

	"github.com/annk/fieldsync/internal/record"
)

// apiPhotoFile is a server-hosted photo reference.
type apiPhotoFile struct {
	FileID       string `json:"fileId"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// apiLocation mirrors the wire location object.
type apiLocation struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// apiProperty is the wire shape of a property as the remote service sends
// it. Timestamps are ISO-8601 strings; statuses may be absent.
type apiProperty struct {
	ID             string      `json:"_id"`
	Name           string      `json:"name"`
	Phone          string      `json:"phone"`
	Address        string      `json:"address"`
	Location       apiLocation `json:"location"`
	Area           float64     `json:"area"`
	PriceMin       float64     `json:"price_min"`
	PriceMax       float64     `json:"price_max"`
	Notes          string      `json:"notes,omitempty"`
	RoofStatus     string      `json:"roof_status,omitempty"`
	LegalStatus    string      `json:"legal_status,omitempty"`
	PipelineStatus string      `json:"pipeline_status,omitempty"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
	Photos         *struct {
		Front   *apiPhotoFile  `json:"front,omitempty"`
		Gallery []apiPhotoFile `json:"gallery,omitempty"`
		Detail  []apiPhotoFile `json:"detail,omitempty"`
	} `json:"photos,omitempty"`
}

// propertyBody is the outbound shape shared by create and update: the
// local-origin fields the remote schema carries. Frontage and photo
// payloads are deliberately absent.
type propertyBody struct {
	Name           string      `json:"name"`
	Phone          string      `json:"phone"`
	Address        string      `json:"address"`
	Location       apiLocation `json:"location"`
	Area           float64     `json:"area"`
	PriceMin       float64     `json:"price_min"`
	PriceMax       float64     `json:"price_max"`
	Notes          string      `json:"notes,omitempty"`
	RoofStatus     string      `json:"roof_status,omitempty"`
	LegalStatus    string      `json:"legal_status,omitempty"`
	PipelineStatus string      `json:"pipeline_status"`
}

func bodyFromRecord(rec *record.PropertyRecord) *propertyBody {
	return &propertyBody{
		Name:    rec.Name,
		Phone:   rec.Phone,
		Address: rec.Address,
		Location: apiLocation{
			Lat:      rec.Location.Lat,
			Lng:      rec.Location.Lng,
			Accuracy: rec.Location.Accuracy,
		},
		Area:        rec.Area,
		PriceMin:    rec.PriceMin,
		PriceMax:    rec.PriceMax,
		Notes:       rec.Notes,
		RoofStatus:  string(rec.RoofStatus),
		LegalStatus: string(rec.LegalStatus),
	}
}

// toRemoteProperty translates the wire shape to local conventions.
// Missing statuses fall back to New/unknown; unparseable timestamps come
// out as zero and the reconciler treats them as "now".
func (a *apiProperty) toRemoteProperty() *record.RemoteProperty {
	rp := &record.RemoteProperty{
		ID:      a.ID,
		Name:    a.Name,
		Phone:   a.Phone,
		Address: a.Address,
		Location: record.Location{
			Lat:      a.Location.Lat,
			Lng:      a.Location.Lng,
			Accuracy: a.Location.Accuracy,
		},
		Area:           a.Area,
		PriceMin:       a.PriceMin,
		PriceMax:       a.PriceMax,
		Notes:          a.Notes,
		RoofStatus:     roofStatusFromWire(a.RoofStatus),
		LegalStatus:    legalStatusFromWire(a.LegalStatus),
		PipelineStatus: pipelineStatusFromWire(a.PipelineStatus),
		CreatedAt:      parseWireTime(a.CreatedAt),
		UpdatedAt:      parseWireTime(a.UpdatedAt),
	}

	if a.Photos != nil && a.Photos.Front != nil {
		rp.PhotoFrontURL = a.Photos.Front.URL
	}

	return rp
}

func pipelineStatusFromWire(s string) record.PipelineStatus {
	switch record.PipelineStatus(s) {
	case record.PipelineNew, record.PipelineSubmitted, record.PipelineDone:
		return record.PipelineStatus(s)
	default:
		return record.PipelineNew
	}
}

func roofStatusFromWire(s string) record.RoofStatus {
	switch record.RoofStatus(s) {
	case record.RoofYes, record.RoofPartial, record.RoofNo, record.RoofUnknown:
		return record.RoofStatus(s)
	default:
		return record.RoofUnknown
	}
}

func legalStatusFromWire(s string) record.LegalStatus {
	switch record.LegalStatus(s) {
	case record.LegalUnknown, record.LegalVerbal, record.LegalPink, record.LegalRed:
		return record.LegalStatus(s)
	default:
		return record.LegalUnknown
	}
}

// parseWireTime converts an ISO-8601 wire timestamp to epoch milliseconds.
func parseWireTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Some deployments send fractional seconds without a zone.
		t, err = time.Parse("2006-01-02T15:04:05.999", s)
		if err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}
