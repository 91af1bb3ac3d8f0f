package geo

import (
	"math"
	"testing"
)

func TestDistanceKmIdenticalPoints(t *testing.T) {
	p := Point{Lat: 54.6872, Lng: 25.2797}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("distance between identical points = %f, want 0", d)
	}
}

func TestDistanceKmVilniusToKaunas(t *testing.T) {
	vilnius := Point{Lat: 54.6872, Lng: 25.2797}
	kaunas := Point{Lat: 54.8985, Lng: 23.9036}

	d := DistanceKm(vilnius, kaunas)
	// Straight-line distance is roughly 92 km.
	if math.Abs(d-92) > 2 {
		t.Fatalf("Vilnius-Kaunas = %.1f km, want about 92", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := Point{Lat: 54.6872, Lng: 25.2797}
	b := Point{Lat: 55.7033, Lng: 21.1443}
	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("asymmetric distance: %f vs %f", d1, d2)
	}
}
