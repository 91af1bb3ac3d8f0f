package subscriptions

import (
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
)

// PlanMode describes the renewal state of a subscription as seen by clients.
type PlanMode string

const (
	PlanModeRenewing             PlanMode = "renewing"
	PlanModeActiveUntilPeriodEnd PlanMode = "active_until_period_end"
	PlanModeExpired              PlanMode = "expired"
)

// Status is the resolved view of a processor subscription.
type Status struct {
	PlanMode           PlanMode   `json:"planMode"`
	Plan               string     `json:"currentPlan"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	PeriodEnd          *time.Time `json:"subscriptionEndDate,omitempty"`
	WillRenew          bool       `json:"subscriptionWillRenew"`
	DaysRemaining      int        `json:"daysRemaining"`
}

// FreeStatus is the default for accounts with no subscription and the
// fail-safe for processor errors: paid features denied, nothing crashes.
func FreeStatus() Status {
	return Status{
		PlanMode:           PlanModeExpired,
		Plan:               plan.Free,
		SubscriptionStatus: "none",
		WillRenew:          false,
		DaysRemaining:      0,
	}
}

// Classify applies the status decision table shared by the resolver and both
// orchestrators:
//
//	active,  renewing            -> renewing, mapped plan
//	active,  cancel at period end -> active_until_period_end, mapped plan
//	canceled, period still paid   -> active_until_period_end, mapped plan
//	canceled, period over         -> expired, free
//	anything else                 -> expired, free
//
// Trialing counts as active: the professional is entitled during a trial.
func Classify(sub payments.Subscription, mappedPlan string, now time.Time) Status {
	st := Status{
		Plan:               mappedPlan,
		SubscriptionStatus: sub.Status,
		DaysRemaining:      daysRemaining(sub.CurrentPeriodEnd, now),
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		st.PeriodEnd = &end
	}

	switch sub.Status {
	case payments.StatusActive, payments.StatusTrialing:
		if sub.CancelAtPeriodEnd {
			st.PlanMode = PlanModeActiveUntilPeriodEnd
			return st
		}
		st.PlanMode = PlanModeRenewing
		st.WillRenew = true
		return st
	case payments.StatusCanceled:
		if !sub.CurrentPeriodEnd.IsZero() && now.Before(sub.CurrentPeriodEnd) {
			st.PlanMode = PlanModeActiveUntilPeriodEnd
			return st
		}
		st.PlanMode = PlanModeExpired
		st.Plan = plan.Free
		return st
	default:
		// past_due, unpaid, incomplete, ...
		st.PlanMode = PlanModeExpired
		st.Plan = plan.Free
		st.DaysRemaining = 0
		return st
	}
}

// daysRemaining is the ceiling of the time left in whole days, floored at 0.
func daysRemaining(periodEnd time.Time, now time.Time) int {
	if periodEnd.IsZero() || !now.Before(periodEnd) {
		return 0
	}
	d := periodEnd.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
