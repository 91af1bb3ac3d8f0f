package storage

import (
	"context"
	"time"

	"github.com/beautyon-app/beautyon/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Professional is a search-result row: the public listing fields plus what
// ranking needs.
type Professional struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	City         string     `json:"city"`
	Plan         string     `json:"plan"`
	Rating       float64    `json:"rating"`
	ReviewCount  int        `json:"reviewCount"`
	Lat          float64    `json:"lat"`
	Lng          float64    `json:"lng"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

// ListActiveProfessionals returns every visible professional with known
// coordinates. Radius filtering happens in the service; the candidate set is
// small enough that a bounding-box pre-filter has not been needed.
func (r *Repository) ListActiveProfessionals(ctx context.Context) ([]Professional, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id::text, p.name, COALESCE(p.city, ''), a.plan,
		       COALESCE(p.rating, 0), COALESCE(p.review_count, 0),
		       p.lat, p.lng, p.last_active_at
		FROM professionals p
		JOIN professional_accounts a ON a.id = p.id
		WHERE p.visible = true
		  AND p.lat IS NOT NULL
		  AND p.lng IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Professional
	for rows.Next() {
		var p Professional
		if err := rows.Scan(&p.ID, &p.Name, &p.City, &p.Plan, &p.Rating, &p.ReviewCount,
			&p.Lat, &p.Lng, &p.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
