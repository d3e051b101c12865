package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mmcloughlin/geohash"

	"github.com/annk/fieldsync/internal/record"
	"github.com/annk/fieldsync/internal/store"
)

// routes builds the local API router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleSyncNow)

		r.Route("/properties", func(r chi.Router) {
			r.Get("/", s.handleListProperties)
			r.Post("/", s.handleSubmitProperty)
			r.Get("/nearby", s.handleNearby)
			r.Get("/{id}", s.handleGetProperty)
			r.Patch("/{id}", s.handleEditProperty)
		})

		r.Route("/drafts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDraft)
			r.Put("/", s.handlePutDraft)
			r.Delete("/", s.handleDeleteDraft)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   counts.Total,
		"pending": counts.Pending,
		"synced":  counts.Synced,
		"error":   counts.Error,
	})
}

// handleSyncNow runs one manual cycle through the daemon's single-flight
// gate and reports per-phase stats. Per-record failures do not fail the
// request; only a dead pull phase does.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sync daemon not running"))
		return
	}

	push, pull, err := s.trigger.SyncNow(r.Context())
	resp := CycleData{Push: push, Pull: pull}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*record.PropertyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, errors.New("lat and lng query parameters are required"))
		return
	}

	precision := 5
	if p := r.URL.Query().Get("precision"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 7 {
			writeError(w, http.StatusBadRequest, errors.New("precision must be between 1 and 7"))
			return
		}
		precision = n
	}

	prefix := geohash.EncodeWithPrecision(lat, lng, uint(precision))
	recs, err := s.store.ListNearby(r.Context(), prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*record.PropertyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

// submitRequest is the body of POST /api/properties: the completed wizard
// output plus the draft session to clear.
type submitRequest struct {
	record.PropertyRecord
	DraftID string `json:"draft_id,omitempty"`
}

// handleSubmitProperty persists a completed check-in as a pending record
// under a fresh provisional id, clears its draft and nudges the daemon.
// The response returns immediately from local state; the background sync
// never blocks it.
func (s *Server) handleSubmitProperty(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := req.PropertyRecord
	now := record.NowMillis()
	rec.ID = record.NewProvisionalID()
	rec.RemoteID = ""
	rec.PipelineStatus = record.PipelineSubmitted
	rec.SyncStatus = record.SyncPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.RoofStatus == "" {
		rec.RoofStatus = record.RoofUnknown
	}
	if rec.LegalStatus == "" {
		rec.LegalStatus = record.LegalUnknown
	}

	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.Put(r.Context(), &rec); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if req.DraftID != "" {
		if err := s.store.DeleteDraft(r.Context(), req.DraftID); err != nil {
			s.logger.Printf("WARNING: failed to clear draft %s: %v", req.DraftID, err)
		}
	}

	s.BroadcastRecord(EventRecordSubmitted, RecordData{
		ID:         rec.ID,
		Name:       rec.Name,
		SyncStatus: string(rec.SyncStatus),
	})
	if s.trigger != nil {
		s.trigger.Kick()
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": &rec})
}

// editRequest is the body of PATCH /api/properties/{id}. Pointer fields
// distinguish "not sent" from zero values.
type editRequest struct {
	Name        *string                `json:"name,omitempty"`
	Phone       *string                `json:"phone,omitempty"`
	Address     *string                `json:"address,omitempty"`
	Location    *record.Location       `json:"location,omitempty"`
	Area        *float64               `json:"area,omitempty"`
	PriceMin    *float64               `json:"price_min,omitempty"`
	PriceMax    *float64               `json:"price_max,omitempty"`
	Frontage    *float64               `json:"frontage,omitempty"`
	Photos      *record.Photos         `json:"photos,omitempty"`
	RoofStatus  *record.RoofStatus     `json:"roof_status,omitempty"`
	LegalStatus *record.LegalStatus    `json:"legal_status,omitempty"`
	Notes       *string                `json:"notes,omitempty"`
	Pipeline    *record.PipelineStatus `json:"pipeline_status,omitempty"`
}

// handleEditProperty applies a local edit: provided fields overwrite the
// stored ones, updated_at advances, and the record goes back to pending so
// the next push carries the change out. Identity never changes here.
func (s *Server) handleEditProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var req editRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Name != nil {
		rec.Name = *req.Name
	}
	if req.Phone != nil {
		rec.Phone = *req.Phone
	}
	if req.Address != nil {
		rec.Address = *req.Address
	}
	if req.Location != nil {
		rec.Location = *req.Location
	}
	if req.Area != nil {
		rec.Area = *req.Area
	}
	if req.PriceMin != nil {
		rec.PriceMin = *req.PriceMin
	}
	if req.PriceMax != nil {
		rec.PriceMax = *req.PriceMax
	}
	if req.Frontage != nil {
		rec.Frontage = *req.Frontage
	}
	if req.Photos != nil {
		rec.Photos = *req.Photos
	}
	if req.RoofStatus != nil {
		rec.RoofStatus = *req.RoofStatus
	}
	if req.LegalStatus != nil {
		rec.LegalStatus = *req.LegalStatus
	}
	if req.Notes != nil {
		rec.Notes = *req.Notes
	}
	if req.Pipeline != nil {
		rec.PipelineStatus = *req.Pipeline
	}

	rec.SyncStatus = record.SyncPending
	rec.UpdatedAt = record.NowMillis()

	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.Put(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.BroadcastRecord(EventRecordEdited, RecordData{
		ID:         rec.ID,
		Name:       rec.Name,
		SyncStatus: string(rec.SyncStatus),
	})
	if s.trigger != nil {
		s.trigger.Kick()
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.store.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": draft})
}

// handlePutDraft autosaves wizard state. Every save supersedes the
// previous version; there is no draft history.
func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var draft record.Draft
	if err := decodeBody(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	draft.ID = chi.URLParam(r, "id")
	if err := s.store.PutDraft(r.Context(), &draft); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON request body with a sane size cap.
func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
