package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/client"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"
)

func testConfig() resilience.Config {
	return resilience.Config{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxConcurrency: 4,
	}
}

func staticToken() string { return "test-token" }

func TestSubscriptionClient_ParsesTrialStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "trial",
			"days_remaining": 5,
			"trial_starts_at": "2026-08-20T00:00:00Z",
			"trial_ends_at": "2026-09-03T00:00:00Z",
			"in_grace_period": false,
			"has_payment_method": false
		}`))
	}))
	defer srv.Close()

	c := client.NewSubscriptionClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	snap, err := c.FetchSubscriptionStatus(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snap.State != domain.LifecycleTrial {
		t.Errorf("expected trial state, got %s", snap.State)
	}
	if snap.DaysRemaining != 5 {
		t.Errorf("expected 5 days remaining, got %d", snap.DaysRemaining)
	}
	if got := snap.TotalTrialDays(99); got != 14 {
		t.Errorf("expected derived 14 trial days, got %d", got)
	}
	if snap.FetchedAt != 0 {
		t.Errorf("client must not assign ordering tokens, got %d", snap.FetchedAt)
	}
}

func TestSubscriptionClient_GraceFlagWinsOverTrialLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"trial","in_grace_period":true,"grace_days_remaining":2}`))
	}))
	defer srv.Close()

	c := client.NewSubscriptionClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	snap, err := c.FetchSubscriptionStatus(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snap.State != domain.LifecycleGrace {
		t.Errorf("expected grace state, got %s", snap.State)
	}
	if snap.GraceDaysRemaining != 2 {
		t.Errorf("expected 2 grace days, got %d", snap.GraceDaysRemaining)
	}
}

func TestSubscriptionClient_UnknownStatusIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"haywire"}`))
	}))
	defer srv.Close()

	c := client.NewSubscriptionClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	_, err := c.FetchSubscriptionStatus(context.Background())
	var malformed *domain.ErrMalformed
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSubscriptionClient_UnauthorizedSurfacesAsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := client.NewSubscriptionClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	_, err := c.FetchSubscriptionStatus(context.Background())
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAccountClient_ParsesFullPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"user": {"id":"u-1","name":"Ana","email":"ana@example.com","base_currency":"BRL"},
			"customer": {"organization_id":"org-1","plan":{"id":"p-1","name":"Pro"}},
			"permissions": {"can_view_units": true, "can_manage_expenses": false}
		}`))
	}))
	defer srv.Close()

	c := client.NewAccountClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	info, err := c.FetchAccountInfo(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info.Customer.OrganizationID != "org-1" {
		t.Errorf("expected org-1, got %s", info.Customer.OrganizationID)
	}
	if info.Customer.Plan.Name != "Pro" {
		t.Errorf("expected plan Pro, got %s", info.Customer.Plan.Name)
	}
	if !info.Permissions["can_view_units"] {
		t.Error("expected can_view_units granted")
	}
}

func TestAccountClient_MissingPlanIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":{"id":"u-1"},"customer":{"organization_id":"org-1"},"permissions":{}}`))
	}))
	defer srv.Close()

	c := client.NewAccountClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	_, err := c.FetchAccountInfo(context.Background())
	var malformed *domain.ErrMalformed
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAuthClient_InvalidTokenIsAnAnswerNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := client.NewAuthClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("test"), testConfig())

	valid, err := c.VerifyToken(context.Background(), "stale-token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if valid {
		t.Error("expected token to be invalid")
	}
}

func TestAuthClient_ServerUnreachableIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := client.NewAuthClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("test"), testConfig())

	_, err := c.VerifyToken(context.Background(), "token")
	if err == nil {
		t.Fatal("expected error for 5xx during verification")
	}
}

func TestDashboardClient_FetchesSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"properties":3,"units":12,"tenants":10,"open_tickets":2,"overdue_rents":1,"monthly_income":45200.50}`))
	}))
	defer srv.Close()

	c := client.NewDashboardClient(srv.Client(), srv.URL, staticToken, resilience.NewCircuitBreaker("test"), testConfig())

	summary, err := c.FetchDashboardSummary(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary.Units != 12 {
		t.Errorf("expected 12 units, got %d", summary.Units)
	}
}
