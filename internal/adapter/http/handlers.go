package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/store"
)

// SeqHeader carries the store sequence number a list response reflects.
const SeqHeader = "X-Store-Seq"

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, who domain.Identity) {
	var in domain.DisasterInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	if in.Location == nil {
		res, err := s.deps.Lookups.Geocode(r.Context(), in.LocationName)
		switch {
		case err != nil:
			s.logger.Warn("geocode on create failed", "location_name", in.LocationName, "error", err)
		case !res.Fallback:
			p := res.Point()
			in.Location = &p
		}
	}

	d, err := s.deps.Store.Create(r.Context(), who, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	records, seq, err := s.deps.Store.Snapshot(r.Context(), store.Filter{Tag: r.URL.Query().Get("tag")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(SeqHeader, strconv.FormatUint(seq, 10))
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	d, err := s.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, who domain.Identity) {
	var patch domain.DisasterPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Store.Update(r.Context(), who, r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, who domain.Identity) {
	if err := s.deps.Store.Delete(r.Context(), who, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAudit returns the central audit entries for a record, including the
// delete entry of a record that no longer exists.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	id := r.PathValue("id")
	entries := s.deps.Audit.ForEntity(id)
	if len(entries) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no audit entries for disaster %q", domain.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSocialMedia(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	posts, err := s.deps.Lookups.SocialFeed(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	near, err := queryPoint(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Lookups.Resources(r.Context(), r.PathValue("id"), near)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOfficialUpdates(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	updates, err := s.deps.Lookups.OfficialUpdates(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	near, err := queryPoint(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Lookups.Briefing(r.Context(), r.PathValue("id"), near)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleVerifyImage(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	var body struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Lookups.VerifyImage(r.Context(), r.PathValue("id"), body.ImageURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	var body struct {
		LocationText string `json:"location_text"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Lookups.Geocode(r.Context(), body.LocationText)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryPoint reads the optional lat and lon query parameters. Both must be
// given together.
func queryPoint(r *http.Request) (*domain.Point, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, fmt.Errorf("%w: lat and lon must be given together", domain.ErrValidation)
	}
	lat, errLat := strconv.ParseFloat(latStr, 64)
	lon, errLon := strconv.ParseFloat(lonStr, 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return nil, fmt.Errorf("%w: invalid coordinates: %w", domain.ErrValidation, err)
	}
	p := domain.Point{Lng: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
