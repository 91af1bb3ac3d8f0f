package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geo"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geocode"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/rank"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/storage"
)

const (
	defaultRadiusKm = 10.0
	maxRadiusKm     = 100.0
	maxResults      = 100
)

// ProfessionalLister is the read side of the discovery store.
type ProfessionalLister interface {
	ListActiveProfessionals(ctx context.Context) ([]storage.Professional, error)
}

// Geocoder resolves a free-form address to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (geo.Point, error)
}

type Handler struct {
	store    ProfessionalLister
	geocoder Geocoder
	logger   *slog.Logger
}

func New(store ProfessionalLister, geocoder Geocoder, logger *slog.Logger) *Handler {
	return &Handler{store: store, geocoder: geocoder, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/discovery/search", h.Search)
}

// Search finds active professionals around a point (or a geocoded address),
// ranked by plan tier, activity, distance and rating.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	origin, err := h.origin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	radiusKm := defaultRadiusKm
	if raw := strings.TrimSpace(r.URL.Query().Get("radius_km")); raw != "" {
		radiusKm, err = strconv.ParseFloat(raw, 64)
		if err != nil || radiusKm <= 0 {
			writeError(w, http.StatusBadRequest, "radius_km must be a positive number")
			return
		}
		if radiusKm > maxRadiusKm {
			radiusKm = maxRadiusKm
		}
	}

	pros, err := h.store.ListActiveProfessionals(r.Context())
	if err != nil {
		h.logger.Error("list professionals failed", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := rank.Nearby(pros, origin, radiusKm, time.Now().UTC())
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"origin":   origin,
		"radiusKm": radiusKm,
		"count":    len(results),
		"results":  results,
	})
}

// origin takes lat/lng when both are present, otherwise geocodes the address
// parameter.
func (h *Handler) origin(r *http.Request) (geo.Point, error) {
	latRaw := strings.TrimSpace(r.URL.Query().Get("lat"))
	lngRaw := strings.TrimSpace(r.URL.Query().Get("lng"))

	if latRaw != "" || lngRaw != "" {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lng, lngErr := strconv.ParseFloat(lngRaw, 64)
		if latErr != nil || lngErr != nil {
			return geo.Point{}, errors.New("lat and lng must both be valid numbers")
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return geo.Point{}, errors.New("lat/lng out of range")
		}
		return geo.Point{Lat: lat, Lng: lng}, nil
	}

	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		return geo.Point{}, errors.New("lat/lng or address is required")
	}
	p, err := h.geocoder.Resolve(r.Context(), address)
	if err != nil {
		if errors.Is(err, geocode.ErrNoResult) {
			return geo.Point{}, errors.New("address could not be located")
		}
		h.logger.Error("geocode failed", "err", err)
		return geo.Point{}, errors.New("address lookup failed")
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
