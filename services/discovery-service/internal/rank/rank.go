package rank

import (
	"sort"
	"time"

	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geo"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/storage"
)

// activityWindow is how recently a professional must have been active to be
// ranked in the "active" bucket.
const activityWindow = 30 * 24 * time.Hour

// Result pairs a professional with the distance from the search origin.
type Result struct {
	storage.Professional
	DistanceKm float64 `json:"distanceKm"`
}

// tierWeight orders the paid tiers above free. Unknown plans rank as free.
func tierWeight(plan string) int {
	switch plan {
	case "bizness":
		return 3
	case "pro":
		return 2
	case "starteris":
		return 1
	default:
		return 0
	}
}

func activeRecently(p storage.Professional, now time.Time) bool {
	return p.LastActiveAt != nil && now.Sub(*p.LastActiveAt) <= activityWindow
}

// Sort orders search results in place: higher plan tier first, then
// recently-active before dormant, then nearest, then best rated. A paid
// listing outranks a nearer free one.
func Sort(results []Result, now time.Time) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]

		if wa, wb := tierWeight(a.Plan), tierWeight(b.Plan); wa != wb {
			return wa > wb
		}
		if aa, ab := activeRecently(a.Professional, now), activeRecently(b.Professional, now); aa != ab {
			return aa
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Rating > b.Rating
	})
}

// Nearby filters pros to the radius around origin and returns them ranked.
func Nearby(pros []storage.Professional, origin geo.Point, radiusKm float64, now time.Time) []Result {
	results := make([]Result, 0, len(pros))
	for _, p := range pros {
		d := geo.DistanceKm(origin, geo.Point{Lat: p.Lat, Lng: p.Lng})
		if d > radiusKm {
			continue
		}
		results = append(results, Result{Professional: p, DistanceKm: d})
	}
	Sort(results, now)
	return results
}
