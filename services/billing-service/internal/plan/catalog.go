package plan

import "strings"

const (
	Free      = "free"
	Starteris = "starteris"
	Pro       = "pro"
	Bizness   = "bizness"
)

// Unlimited marks a limit with no cap.
const Unlimited = -1

// Limits are the feature entitlements of a plan. Keep this small and stable:
// other services rely on these values to enforce behavior.
type Limits struct {
	Plan                string `json:"plan"`
	MaxServices         int    `json:"max_services"`
	MaxStaff            int    `json:"max_staff"`
	MaxGalleryPhotos    int    `json:"max_gallery_photos"`
	CalendarDaysVisible int    `json:"calendar_days_visible"`
	EmailCredits        int    `json:"email_credits"`
	CustomPage          bool   `json:"custom_page"`
	PriorityListing     bool   `json:"priority_listing"`
	StatsAccess         bool   `json:"stats_access"`
}

// LimitsFor resolves a plan identifier to its limits. Unknown or empty plans
// resolve to the free tier, never to an error: a missing plan must deny paid
// features, not break callers.
func LimitsFor(p string) Limits {
	switch strings.TrimSpace(strings.ToLower(p)) {
	case Starteris:
		return Limits{
			Plan:                Starteris,
			MaxServices:         10,
			MaxStaff:            3,
			MaxGalleryPhotos:    15,
			CalendarDaysVisible: 30,
			EmailCredits:        50,
			CustomPage:          true,
		}
	case Pro:
		return Limits{
			Plan:                Pro,
			MaxServices:         30,
			MaxStaff:            10,
			MaxGalleryPhotos:    50,
			CalendarDaysVisible: 90,
			EmailCredits:        250,
			CustomPage:          true,
			PriorityListing:     true,
			StatsAccess:         true,
		}
	case Bizness:
		return Limits{
			Plan:                Bizness,
			MaxServices:         Unlimited,
			MaxStaff:            Unlimited,
			MaxGalleryPhotos:    Unlimited,
			CalendarDaysVisible: 365,
			EmailCredits:        1000,
			CustomPage:          true,
			PriorityListing:     true,
			StatsAccess:         true,
		}
	default:
		return Limits{
			Plan:                Free,
			MaxServices:         3,
			MaxStaff:            1,
			MaxGalleryPhotos:    5,
			CalendarDaysVisible: 14,
			EmailCredits:        0,
		}
	}
}

// TierRank orders plans for ranking and comparison; higher is better.
func TierRank(p string) int {
	switch strings.TrimSpace(strings.ToLower(p)) {
	case Bizness:
		return 3
	case Pro:
		return 2
	case Starteris:
		return 1
	default:
		return 0
	}
}

// PriceTable maps Stripe price ids to plans. Populated from configuration so
// tests can substitute their own table.
type PriceTable struct {
	StarterisPriceID string
	ProPriceID       string
	BiznessPriceID   string
}

// PlanFor maps a Stripe price id to a plan; unmapped prices resolve to free.
func (t PriceTable) PlanFor(priceID string) string {
	switch strings.TrimSpace(priceID) {
	case "":
		return Free
	case t.StarterisPriceID:
		return Starteris
	case t.ProPriceID:
		return Pro
	case t.BiznessPriceID:
		return Bizness
	default:
		return Free
	}
}

// PriceFor is the inverse mapping; empty for free and unknown plans.
func (t PriceTable) PriceFor(p string) string {
	switch strings.TrimSpace(strings.ToLower(p)) {
	case Starteris:
		return t.StarterisPriceID
	case Pro:
		return t.ProPriceID
	case Bizness:
		return t.BiznessPriceID
	default:
		return ""
	}
}
