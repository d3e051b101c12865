package record

// RemoteProperty is the authoritative remote representation of a property,
// already translated to local conventions by the transfer client: timestamps
// are epoch milliseconds and enum values match the local enums (with the
// documented fallbacks applied).
//
// It is a superset of the shared fields (it carries the server id and the
// server-owned pipeline status) and a subset of the local record: frontage
// and the general/detail photo slots never appear here.
type RemoteProperty struct {
	ID string

	Name    string
	Phone   string
	Address string

	Location Location

	Area     float64
	PriceMin float64
	PriceMax float64

	RoofStatus  RoofStatus
	LegalStatus LegalStatus
	Notes       string

	PipelineStatus PipelineStatus

	// PhotoFrontURL is the server-hosted front photo, empty when the
	// remote record has no photo yet.
	PhotoFrontURL string

	CreatedAt int64
	UpdatedAt int64
}
