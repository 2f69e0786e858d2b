package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// SubscriptionClient fetches the subscription lifecycle status.
type SubscriptionClient struct {
	base
}

// NewSubscriptionClient creates a new SubscriptionClient.
func NewSubscriptionClient(httpClient *http.Client, baseURL string, token TokenProvider, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *SubscriptionClient {
	return &SubscriptionClient{base{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		cb:         cb,
		cfg:        cfg,
	}}
}

// subscriptionStatusWire is the raw upstream shape, decoded before
// validation. Pointers distinguish "absent" from zero values.
type subscriptionStatusWire struct {
	Status             string  `json:"status"`
	DaysRemaining      *int    `json:"days_remaining"`
	TrialStartsAt      *string `json:"trial_starts_at"`
	TrialEndsAt        *string `json:"trial_ends_at"`
	InGracePeriod      bool    `json:"in_grace_period"`
	GraceDaysRemaining *int    `json:"grace_days_remaining"`
	HasPaymentMethod   bool    `json:"has_payment_method"`
	SuspensionReason   string  `json:"suspension_reason"`
}

// FetchSubscriptionStatus fetches and validates the lifecycle status.
// The returned snapshot has no ordering token yet; the coordinator
// assigns FetchedAt when it admits the result.
func (c *SubscriptionClient) FetchSubscriptionStatus(ctx context.Context) (*domain.StatusSnapshot, error) {
	ctx, span := tracer.Start(ctx, "SubscriptionClient.FetchSubscriptionStatus")
	defer span.End()

	var wire subscriptionStatusWire

	err := c.execute(ctx, "subscription", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/v1/subscription/status")
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "subscription"); err != nil {
			return err
		}

		return json.NewDecoder(resp.Body).Decode(&wire)
	})
	if err != nil {
		return nil, err
	}

	snap, err := wire.toSnapshot()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("subscription.state", string(snap.State)))
	return snap, nil
}

func (w *subscriptionStatusWire) toSnapshot() (*domain.StatusSnapshot, error) {
	state := domain.LifecycleState(w.Status)
	if !state.Valid() {
		return nil, &domain.ErrMalformed{Service: "subscription", Reason: "unknown status " + w.Status}
	}

	// The grace flag wins over the reported status label; the server sets
	// it while the status string may still read "trial".
	if w.InGracePeriod && state == domain.LifecycleTrial {
		state = domain.LifecycleGrace
	}

	snap := &domain.StatusSnapshot{
		State:            state,
		HasPaymentMethod: w.HasPaymentMethod,
		SuspensionReason: w.SuspensionReason,
	}

	if w.DaysRemaining != nil {
		if *w.DaysRemaining < 0 {
			return nil, &domain.ErrMalformed{Service: "subscription", Reason: "negative days_remaining"}
		}
		snap.DaysRemaining = *w.DaysRemaining
	}
	if w.GraceDaysRemaining != nil {
		if *w.GraceDaysRemaining < 0 {
			return nil, &domain.ErrMalformed{Service: "subscription", Reason: "negative grace_days_remaining"}
		}
		snap.GraceDaysRemaining = *w.GraceDaysRemaining
	}

	if t, ok := parseTimestamp(w.TrialStartsAt); ok {
		snap.TrialStartsAt = t
	}
	if t, ok := parseTimestamp(w.TrialEndsAt); ok {
		snap.TrialEndsAt = t
	}

	if state == domain.LifecycleSuspended && snap.SuspensionReason == "" {
		snap.SuspensionReason = "unspecified"
	}

	return snap, nil
}

// parseTimestamp accepts RFC3339 or date-only values; anything else is
// treated as absent rather than failing the whole snapshot.
func parseTimestamp(s *string) (*time.Time, bool) {
	if s == nil || *s == "" {
		return nil, false
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return &t, true
	}
	if t, err := time.Parse("2006-01-02", *s); err == nil {
		return &t, true
	}
	return nil, false
}
