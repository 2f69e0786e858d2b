package domain

import "fmt"

// ============================================================
// Subscription banner classification
// ============================================================

// BannerKind is one of the five mutually exclusive presentation states.
type BannerKind string

const (
	BannerHidden    BannerKind = "hidden"
	BannerTrial     BannerKind = "trial"
	BannerGrace     BannerKind = "grace"
	BannerSuspended BannerKind = "suspended"
)

// BannerTier escalates visual urgency within the trial state.
type BannerTier string

const (
	TierNormal   BannerTier = "normal"
	TierWarning  BannerTier = "warning"
	TierUrgent   BannerTier = "urgent"
	TierCritical BannerTier = "critical"
)

// Banner is what the view layer renders above the dashboard. It is a pure
// function of a StatusSnapshot and has no side effects of its own.
type Banner struct {
	Kind             BannerKind `json:"kind"`
	Tier             BannerTier `json:"tier,omitempty"`
	Title            string     `json:"title,omitempty"`
	ActionLabel      string     `json:"action_label,omitempty"`
	DaysRemaining    int        `json:"days_remaining,omitempty"`
	Progress         float64    `json:"progress,omitempty"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`
}

// ClassifyBanner maps a StatusSnapshot to its banner. Rules apply in order:
// active → hidden, suspended → suspended, grace flag → grace, else trial.
// A never-populated snapshot renders hidden, not as an error.
// trialFallbackDays is used when the trial window timestamps are absent.
func ClassifyBanner(s *StatusSnapshot, trialFallbackDays int) Banner {
	if s == nil || s.State == LifecycleUnknown {
		return Banner{Kind: BannerHidden}
	}

	switch s.State {
	case LifecycleActive:
		return Banner{Kind: BannerHidden}

	case LifecycleSuspended:
		action := "Reactivate Subscription"
		if !s.HasPaymentMethod {
			action = "Add Payment Method"
		}
		return Banner{
			Kind:             BannerSuspended,
			Tier:             TierCritical,
			Title:            "Your subscription is suspended",
			ActionLabel:      action,
			SuspensionReason: s.SuspensionReason,
		}

	case LifecycleGrace:
		// graceDaysRemaining comes from the server, never re-derived.
		return Banner{
			Kind:          BannerGrace,
			Tier:          graceTier(s.GraceDaysRemaining),
			Title:         graceTitle(s.GraceDaysRemaining),
			ActionLabel:   "Add Payment Method",
			DaysRemaining: s.GraceDaysRemaining,
		}
	}

	// Trial. Zero and one remaining days are distinct copy cases.
	return Banner{
		Kind:          BannerTrial,
		Tier:          trialTier(s.DaysRemaining),
		Title:         trialTitle(s.DaysRemaining),
		ActionLabel:   "Upgrade Now",
		DaysRemaining: s.DaysRemaining,
		Progress:      s.TrialProgress(trialFallbackDays),
	}
}

func trialTier(days int) BannerTier {
	switch {
	case days <= 1:
		return TierCritical
	case days <= 3:
		return TierUrgent
	case days <= 7:
		return TierWarning
	default:
		return TierNormal
	}
}

func trialTitle(days int) string {
	switch {
	case days <= 0:
		return "Trial Ends Today!"
	case days == 1:
		return "1 Day Left in Trial"
	default:
		return fmt.Sprintf("%d Days Left in Trial", days)
	}
}

func graceTier(days int) BannerTier {
	if days <= 1 {
		return TierCritical
	}
	return TierUrgent
}

func graceTitle(days int) string {
	switch {
	case days <= 0:
		return "Grace Period Ends Today!"
	case days == 1:
		return "1 Day Left in Grace Period"
	default:
		return fmt.Sprintf("%d Days Left in Grace Period", days)
	}
}
