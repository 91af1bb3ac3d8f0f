package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geo"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	pros []storage.Professional
	err  error
}

func (f *fakeLister) ListActiveProfessionals(_ context.Context) ([]storage.Professional, error) {
	return f.pros, f.err
}

type fakeGeocoder struct {
	point geo.Point
	err   error
	calls int
}

func (f *fakeGeocoder) Resolve(_ context.Context, _ string) (geo.Point, error) {
	f.calls++
	return f.point, f.err
}

func activePro(id string, plan string, lat, lng float64) storage.Professional {
	active := time.Now().Add(-24 * time.Hour)
	return storage.Professional{
		ID: id, Name: id, Plan: plan, Lat: lat, Lng: lng,
		LastActiveAt: &active,
	}
}

type searchResponse struct {
	Count   int `json:"count"`
	Results []struct {
		ID         string  `json:"id"`
		DistanceKm float64 `json:"distanceKm"`
	} `json:"results"`
}

func TestSearchByCoordinates(t *testing.T) {
	lister := &fakeLister{pros: []storage.Professional{
		activePro("near-free", "free", 54.6880, 25.2800),
		activePro("far-bizness", "bizness", 54.7300, 25.3400),
		activePro("kaunas", "pro", 54.8985, 23.9036),
	}}
	h := New(lister, &fakeGeocoder{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/search?lat=54.6872&lng=25.2797&radius_km=15", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2 within 15km", body.Count)
	}
	if body.Results[0].ID != "far-bizness" {
		t.Fatalf("first result = %q, want the bizness tier ahead of a nearer free one", body.Results[0].ID)
	}
}

func TestSearchByAddress(t *testing.T) {
	lister := &fakeLister{pros: []storage.Professional{
		activePro("near", "starteris", 54.6880, 25.2800),
	}}
	geocoder := &fakeGeocoder{point: geo.Point{Lat: 54.6872, Lng: 25.2797}}
	h := New(lister, geocoder, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/search?address=Vilnius", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if geocoder.calls != 1 {
		t.Fatalf("geocoder called %d times, want 1", geocoder.calls)
	}
	var body searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Results[0].ID != "near" {
		t.Fatalf("body = %+v", body)
	}
}

func TestSearchRejectsMissingOrigin(t *testing.T) {
	h := New(&fakeLister{}, &fakeGeocoder{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/search", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without lat/lng or address", rec.Code)
	}
}

func TestSearchRejectsBadCoordinates(t *testing.T) {
	h := New(&fakeLister{}, &fakeGeocoder{}, discardLogger())

	for _, q := range []string{"lat=abc&lng=25.0", "lat=95&lng=25.0", "lat=54.7", "lat=54.7&lng=25.0&radius_km=-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/search?"+q, nil)
		rec := httptest.NewRecorder()
		h.Search(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSearchStoreFailure(t *testing.T) {
	h := New(&fakeLister{err: errors.New("db down")}, &fakeGeocoder{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/search?lat=54.7&lng=25.0", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
