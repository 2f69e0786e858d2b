package domain

import "time"

// ============================================================
// Account lifecycle & permission snapshots
// ============================================================

// LifecycleState is the server-reported subscription lifecycle state.
type LifecycleState string

const (
	LifecycleTrial     LifecycleState = "trial"
	LifecycleGrace     LifecycleState = "grace"
	LifecycleSuspended LifecycleState = "suspended"
	LifecycleActive    LifecycleState = "active"

	// LifecycleUnknown marks a snapshot that has never been populated.
	// It renders as hidden, never as an error state.
	LifecycleUnknown LifecycleState = ""
)

// Valid reports whether s is one of the four server-reported states.
func (s LifecycleState) Valid() bool {
	switch s {
	case LifecycleTrial, LifecycleGrace, LifecycleSuspended, LifecycleActive:
		return true
	}
	return false
}

// StatusSnapshot is the last-known account lifecycle state.
// Snapshots are immutable: a change is always a brand-new value, so
// consumers can compare FetchedAt (or pointer identity) cheaply.
type StatusSnapshot struct {
	State              LifecycleState `json:"state"`
	TrialStartsAt      *time.Time     `json:"trial_starts_at,omitempty"`
	TrialEndsAt        *time.Time     `json:"trial_ends_at,omitempty"`
	DaysRemaining      int            `json:"days_remaining"`
	GraceDaysRemaining int            `json:"grace_days_remaining"`
	HasPaymentMethod   bool           `json:"has_payment_method"`
	SuspensionReason   string         `json:"suspension_reason,omitempty"`

	// FetchedAt is a coordinator-assigned ordering token, not a server
	// value. Greater means fresher, regardless of arrival order.
	FetchedAt uint64 `json:"fetched_at"`
}

// TotalTrialDays derives the trial window length in whole days from the
// start/end timestamps, falling back to fallbackDays when either is
// missing. The fallback is configuration, pending product confirmation.
func (s *StatusSnapshot) TotalTrialDays(fallbackDays int) int {
	if s.TrialStartsAt == nil || s.TrialEndsAt == nil {
		return fallbackDays
	}
	days := int(s.TrialEndsAt.Sub(*s.TrialStartsAt).Hours() / 24)
	if days <= 0 {
		return fallbackDays
	}
	return days
}

// TrialProgress returns the elapsed fraction of the trial window in [0, 1].
func (s *StatusSnapshot) TrialProgress(fallbackDays int) float64 {
	total := s.TotalTrialDays(fallbackDays)
	if total <= 0 {
		return 1
	}
	p := float64(total-s.DaysRemaining) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// PermissionSnapshot is the last-known capability set for the signed-in
// identity, scoped to one organization. PlanName rides along because both
// arrive from the same account-info fetch and must be applied together.
type PermissionSnapshot struct {
	OrganizationID string          `json:"organization_id"`
	Capabilities   map[string]bool `json:"capabilities"`
	PlanName       string          `json:"plan_name"`
	FetchedAt      uint64          `json:"fetched_at"`
}

// Can reports whether the capability is granted. Unknown capabilities
// are denied.
func (p *PermissionSnapshot) Can(capability string) bool {
	if p == nil {
		return false
	}
	return p.Capabilities[capability]
}

// ============================================================
// Refresh requests (ephemeral, never stored)
// ============================================================

// ResourceKey identifies which fetcher(s) a refresh runs.
type ResourceKey string

const (
	ResourceSubscription ResourceKey = "subscription"
	ResourceAccount      ResourceKey = "account"
	ResourceDashboard    ResourceKey = "dashboard"
)

// RefreshReason records which trigger produced a refresh request.
// Purely diagnostic: the coordinator treats all reasons identically
// except for the silent flag the trigger chose.
type RefreshReason string

const (
	ReasonMount    RefreshReason = "mount"
	ReasonInterval RefreshReason = "interval"
	ReasonFocus    RefreshReason = "focus"
	ReasonPush     RefreshReason = "push"
	ReasonManual   RefreshReason = "manual"
)

// RefreshRequest is one trigger firing. Silent controls whether a failure
// is surfaced to the user; background reconciliation must never toast a
// transient network hiccup.
type RefreshRequest struct {
	Resource ResourceKey
	Reason   RefreshReason
	Silent   bool
}
