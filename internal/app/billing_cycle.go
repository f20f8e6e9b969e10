/**
 * @description
 * Billing-cycle date arithmetic shared by the renewal paths.
 */
package app

import (
	"fmt"
	"time"

	"github.com/nimbushost/lifecycle-service/internal/domain"
)

// NextPaymentDate computes the end of the next paid period. The addition is
// anchored to the current subscription end so unused prepaid time is preserved
// when the sweep runs late; if the current end is already in the past the
// anchor falls back to now, preventing missed cycles from compounding into a
// far-future date after an outage.
func NextPaymentDate(currentEnd time.Time, cycle domain.BillingCycleType, now time.Time) (time.Time, error) {
	anchor := currentEnd
	if currentEnd.Before(now) {
		anchor = now
	}

	switch cycle {
	case domain.CycleHourly:
		return anchor.Add(time.Hour), nil
	case domain.CycleMonthly:
		return anchor.AddDate(0, 1, 0), nil
	case domain.CycleQuarterly:
		return anchor.AddDate(0, 3, 0), nil
	case domain.CycleAnnually:
		return anchor.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown billing cycle type %q", cycle)
	}
}

// NextLicenseExpiry computes the next cPanel license expiry from the plan's
// billing duration, with the same anchoring rule as NextPaymentDate.
func NextLicenseExpiry(currentExpiry *time.Time, plan *domain.CPanelPlan, now time.Time) (time.Time, error) {
	anchor := now
	if currentExpiry != nil && currentExpiry.After(now) {
		anchor = *currentExpiry
	}

	switch plan.BillingDuration {
	case "days":
		return anchor.AddDate(0, 0, plan.DurationValue), nil
	case "months":
		return anchor.AddDate(0, plan.DurationValue, 0), nil
	case "years":
		return anchor.AddDate(plan.DurationValue, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown license billing duration %q", plan.BillingDuration)
	}
}
