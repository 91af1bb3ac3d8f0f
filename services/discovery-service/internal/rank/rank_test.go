package rank

import (
	"testing"
	"time"

	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geo"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/storage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func pro(id string, plan string, lat, lng float64, rating float64, lastActive *time.Time) storage.Professional {
	return storage.Professional{
		ID: id, Name: id, Plan: plan,
		Lat: lat, Lng: lng, Rating: rating,
		LastActiveAt: lastActive,
	}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestNearbyPaidTierOutranksNearerFree(t *testing.T) {
	recently := testNow.Add(-24 * time.Hour)
	origin := geo.Point{Lat: 54.6872, Lng: 25.2797}

	pros := []storage.Professional{
		pro("free-near", "free", 54.6880, 25.2800, 5.0, &recently),
		pro("bizness-far", "bizness", 54.7300, 25.3400, 4.0, &recently),
	}

	got := Nearby(pros, origin, 10, testNow)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "bizness-far" {
		t.Fatalf("order = %v, want bizness tier first", ids(got))
	}
	if got[0].DistanceKm <= got[1].DistanceKm {
		t.Fatalf("expected the paid listing to be the farther one (%.2f vs %.2f)",
			got[0].DistanceKm, got[1].DistanceKm)
	}
}

func TestNearbyActivityBreaksTierTies(t *testing.T) {
	recently := testNow.Add(-10 * 24 * time.Hour)
	dormant := testNow.Add(-90 * 24 * time.Hour)
	origin := geo.Point{Lat: 54.6872, Lng: 25.2797}

	pros := []storage.Professional{
		pro("pro-dormant-near", "pro", 54.6875, 25.2798, 5.0, &dormant),
		pro("pro-active-far", "pro", 54.7000, 25.3000, 3.0, &recently),
	}

	got := Nearby(pros, origin, 10, testNow)
	if got[0].ID != "pro-active-far" {
		t.Fatalf("order = %v, want recently active first", ids(got))
	}
}

func TestNearbyDistanceThenRating(t *testing.T) {
	recently := testNow.Add(-24 * time.Hour)
	origin := geo.Point{Lat: 54.6872, Lng: 25.2797}

	pros := []storage.Professional{
		pro("starteris-far", "starteris", 54.7100, 25.3200, 5.0, &recently),
		pro("starteris-near", "starteris", 54.6880, 25.2800, 3.0, &recently),
		// Same spot as starteris-near, higher rating.
		pro("starteris-near-top", "starteris", 54.6880, 25.2800, 4.8, &recently),
	}

	got := Nearby(pros, origin, 10, testNow)
	want := []string{"starteris-near-top", "starteris-near", "starteris-far"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
}

func TestNearbyFiltersByRadius(t *testing.T) {
	recently := testNow.Add(-24 * time.Hour)
	vilnius := geo.Point{Lat: 54.6872, Lng: 25.2797}

	pros := []storage.Professional{
		pro("in-town", "free", 54.6900, 25.2850, 4.0, &recently),
		pro("kaunas", "bizness", 54.8985, 23.9036, 5.0, &recently),
	}

	got := Nearby(pros, vilnius, 20, testNow)
	if len(got) != 1 || got[0].ID != "in-town" {
		t.Fatalf("results = %v, want only in-town within 20km", ids(got))
	}
}

func TestTierWeightUnknownPlanRanksAsFree(t *testing.T) {
	if w := tierWeight("enterprise"); w != tierWeight("free") {
		t.Fatalf("unknown plan weight = %d, want free weight %d", w, tierWeight("free"))
	}
	if !(tierWeight("bizness") > tierWeight("pro") &&
		tierWeight("pro") > tierWeight("starteris") &&
		tierWeight("starteris") > tierWeight("free")) {
		t.Fatal("tier weights out of order")
	}
}
