package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/observability"

	"go.uber.org/zap"
)

// ============================================================
// Fakes
// ============================================================

type fakeStatusFetcher struct {
	mu    sync.Mutex
	calls int
	snap  domain.StatusSnapshot
	err   error
	gate  chan struct{}
}

func (f *fakeStatusFetcher) FetchSubscriptionStatus(_ context.Context) (*domain.StatusSnapshot, error) {
	f.mu.Lock()
	f.calls++
	snap, err, gate := f.snap, f.err, f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	s := snap
	return &s, nil
}

func (f *fakeStatusFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAccountFetcher struct {
	mu    sync.Mutex
	calls int
	info  domain.AccountInfo
	err   error
}

func (f *fakeAccountFetcher) FetchAccountInfo(_ context.Context) (*domain.AccountInfo, error) {
	f.mu.Lock()
	f.calls++
	info, err := f.info, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	i := info
	return &i, nil
}

func (f *fakeAccountFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAccountFetcher) setPlan(name string) {
	f.mu.Lock()
	f.info.Customer.Plan.Name = name
	f.mu.Unlock()
}

type fakeDashboardFetcher struct {
	mu      sync.Mutex
	calls   int
	summary domain.DashboardSummary
	err     error
}

func (f *fakeDashboardFetcher) FetchDashboardSummary(_ context.Context) (*domain.DashboardSummary, error) {
	f.mu.Lock()
	f.calls++
	summary, err := f.summary, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := summary
	return &s, nil
}

func (f *fakeDashboardFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (f *fakeNotifier) Notify(n domain.Notice) {
	f.mu.Lock()
	f.notices = append(f.notices, n)
	f.mu.Unlock()
}

func (f *fakeNotifier) all() []domain.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Notice, len(f.notices))
	copy(out, f.notices)
	return out
}

type testDeps struct {
	status    *fakeStatusFetcher
	account   *fakeAccountFetcher
	dashboard *fakeDashboardFetcher
	notifier  *fakeNotifier
	metrics   *observability.Metrics
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, orgID string) (*Coordinator, *testDeps) {
	t.Helper()

	deps := &testDeps{
		status: &fakeStatusFetcher{snap: domain.StatusSnapshot{
			State:         domain.LifecycleActive,
			DaysRemaining: -1,
		}},
		account: &fakeAccountFetcher{info: domain.AccountInfo{
			User: domain.AccountUser{ID: "user-1", Name: "Sam", Email: "sam@example.com"},
			Customer: domain.AccountCustomer{
				OrganizationID: orgID,
				Plan:           domain.AccountPlan{ID: "plan-basic", Name: "Basic"},
			},
			Permissions: map[string]bool{CapViewDashboard: true},
		}},
		dashboard: &fakeDashboardFetcher{summary: domain.DashboardSummary{Properties: 3, Units: 12}},
		notifier:  &fakeNotifier{},
		metrics:   observability.NewMetrics(),
	}

	c := NewCoordinator(cfg, CoordinatorDeps{
		Status:         deps.status,
		Account:        deps.account,
		Dashboard:      deps.dashboard,
		Notifier:       deps.notifier,
		Metrics:        deps.metrics,
		Logger:         zap.NewNop(),
		OrganizationID: orgID,
	})
	return c, deps
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// ============================================================
// Tests
// ============================================================

func TestCoordinator_RefreshAssignsOrderingToken(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
		Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.Status()
	if snap == nil {
		t.Fatal("expected a published snapshot")
	}
	if snap.FetchedAt == 0 {
		t.Error("expected the coordinator to assign a non-zero ordering token")
	}
	if deps.status.callCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", deps.status.callCount())
	}

	time.Sleep(5 * time.Millisecond)
	if err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
		Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Status().FetchedAt; got <= snap.FetchedAt {
		t.Errorf("expected a strictly increasing token, had %d then %d", snap.FetchedAt, got)
	}
}

func TestCoordinator_ConcurrentRequestsCoalesce(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	gate := make(chan struct{})
	deps.status.gate = gate

	const callers = 4
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_ = c.RequestRefresh(context.Background(), domain.RefreshRequest{
				Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
			})
		}()
	}

	waitFor(t, time.Second, func() bool { return deps.status.callCount() == 1 })
	close(gate)
	wg.Wait()

	if got := deps.status.callCount(); got != 1 {
		t.Errorf("expected exactly 1 network call for %d concurrent requests, got %d", callers, got)
	}
	if c.Status() == nil {
		t.Error("expected the shared fetch to publish a snapshot")
	}
}

func TestCoordinator_JoinersShareTheLeaderFetch(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	gate := make(chan struct{})
	deps.status.mu.Lock()
	deps.status.err = &domain.ErrExternalService{Service: "subscription"}
	deps.status.gate = gate
	deps.status.mu.Unlock()

	request := func() chan error {
		done := make(chan error, 1)
		go func() {
			done <- c.RequestRefresh(context.Background(), domain.RefreshRequest{
				Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
			})
		}()
		return done
	}

	leader := request()
	waitFor(t, time.Second, func() bool { return deps.status.callCount() == 1 })

	// Past the debounce window, so the second caller reaches the
	// coalescing layer instead of being collapsed.
	time.Sleep(5 * time.Millisecond)
	joiner := request()

	// The joiner must ride the in-flight fetch, not return on its own.
	select {
	case err := <-joiner:
		t.Fatalf("joiner returned before the fetch it joined completed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	for name, done := range map[string]chan error{"leader": leader, "joiner": joiner} {
		var extErr *domain.ErrExternalService
		if err := <-done; !errors.As(err, &extErr) {
			t.Errorf("%s: expected the shared fetch error, got %v", name, err)
		}
	}
	if got := deps.status.callCount(); got != 1 {
		t.Errorf("expected the joiner to share the leader's fetch, got %d calls", got)
	}

	// The key must not stay wedged after the shared fetch resolves.
	deps.status.mu.Lock()
	deps.status.err = nil
	deps.status.gate = nil
	deps.status.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if err := <-request(); err != nil {
		t.Fatalf("refresh after a shared failure: %v", err)
	}
	if got := deps.status.callCount(); got != 2 {
		t.Errorf("expected a fresh fetch after the shared one resolved, got %d calls", got)
	}
}

func TestCoordinator_DebounceWindowCollapsesRequests(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Second}, "org-1")

	for i := 0; i < 3; i++ {
		if err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonFocus, Silent: true,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := deps.status.callCount(); got != 1 {
		t.Errorf("expected 1 network call inside the debounce window, got %d", got)
	}
}

func TestCoordinator_IndependentResourceKeysDoNotBlock(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	gate := make(chan struct{})
	deps.status.gate = gate
	defer close(gate)

	go func() {
		_ = c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
		})
	}()
	waitFor(t, time.Second, func() bool { return deps.status.callCount() == 1 })

	done := make(chan error, 1)
	go func() {
		done <- c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceDashboard, Reason: domain.ReasonManual,
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dashboard refresh failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dashboard refresh blocked behind an in-flight subscription fetch")
	}
	if c.Dashboard() == nil {
		t.Error("expected a dashboard snapshot")
	}
}

func TestCoordinator_StopDropsInFlightResults(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{
		SubscriptionPollInterval: time.Hour,
		DashboardPollInterval:    time.Hour,
		Debounce:                 time.Millisecond,
	}, "org-1")

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := c.Status()
	if before == nil {
		t.Fatal("expected the initial sync to publish a status snapshot")
	}
	initialCalls := deps.status.callCount()

	gate := make(chan struct{})
	deps.status.gate = gate

	time.Sleep(5 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
		})
	}()
	waitFor(t, time.Second, func() bool { return deps.status.callCount() == initialCalls+1 })

	if got := deps.metrics.StaleDropCount(string(domain.ResourceSubscription)); got != 0 {
		t.Fatalf("expected no stale drops before teardown, got %v", got)
	}

	c.Stop()
	close(gate)
	<-done

	if got := c.Status().FetchedAt; got != before.FetchedAt {
		t.Errorf("a completion from before teardown mutated the store: token %d -> %d", before.FetchedAt, got)
	}
	if got := deps.metrics.StaleDropCount(string(domain.ResourceSubscription)); got != 1 {
		t.Errorf("expected the dropped completion to be counted, got %v", got)
	}
}

func TestCoordinator_PlanChangeToast(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
	ctx := context.Background()

	refreshAccount := func(silent bool) {
		t.Helper()
		time.Sleep(2 * time.Millisecond)
		if err := c.RequestRefresh(ctx, domain.RefreshRequest{
			Resource: domain.ResourceAccount, Reason: domain.ReasonInterval, Silent: silent,
		}); err != nil {
			t.Fatalf("account refresh: %v", err)
		}
	}

	// First population carries no old value to diff against.
	refreshAccount(true)
	if n := len(deps.notifier.all()); n != 0 {
		t.Fatalf("expected no toast on first population, got %d", n)
	}

	deps.account.setPlan("Professional")
	refreshAccount(true)

	notices := deps.notifier.all()
	if len(notices) != 1 {
		t.Fatalf("expected exactly one plan-change toast, got %d", len(notices))
	}
	if notices[0].Message != "Your organization's plan has been updated to Professional!" {
		t.Errorf("unexpected toast message: %q", notices[0].Message)
	}

	// Same plan again: nothing new to announce.
	refreshAccount(true)
	if n := len(deps.notifier.all()); n != 1 {
		t.Errorf("expected no additional toast, got %d total", n)
	}

	// Non-silent refreshes never toast, even across a change.
	deps.account.setPlan("Enterprise")
	refreshAccount(false)
	if n := len(deps.notifier.all()); n != 1 {
		t.Errorf("expected non-silent refresh to skip the toast, got %d total", n)
	}
}

func TestCoordinator_PushPermissionsUpdated(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	c.handlePushEvent(domain.PushEvent{
		Type:           domain.EventPermissionsUpdated,
		OrganizationID: "org-1",
	})

	waitFor(t, time.Second, func() bool {
		return deps.account.callCount() == 1 && deps.dashboard.callCount() == 1
	})

	notices := deps.notifier.all()
	if len(notices) == 0 || notices[0].Message != PermissionsUpdatedNotice().Message {
		t.Errorf("expected the permissions-updated toast, got %v", notices)
	}
	if c.Permissions() == nil {
		t.Error("expected a permission snapshot after the chained refresh")
	}
}

func TestCoordinator_PushFiltersOtherOrganizations(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	c.handlePushEvent(domain.PushEvent{
		Type:           domain.EventPermissionsUpdated,
		OrganizationID: "org-2",
	})

	time.Sleep(50 * time.Millisecond)
	if got := deps.account.callCount(); got != 0 {
		t.Errorf("expected no refresh for another organization's event, got %d calls", got)
	}
	if n := len(deps.notifier.all()); n != 0 {
		t.Errorf("expected no toast for a filtered event, got %d", n)
	}
}

func TestCoordinator_PushPaymentUpdated(t *testing.T) {
	t.Run("matching organization", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

		c.handlePushEvent(domain.PushEvent{Type: domain.EventPaymentUpdated, OrganizationID: "org-1"})

		waitFor(t, time.Second, func() bool { return deps.status.callCount() == 1 })
		if n := len(deps.notifier.all()); n != 0 {
			t.Errorf("payment-updated should refresh silently, got %d notices", n)
		}
	})

	// Billing events may omit the organization id; the channel is already
	// scoped to this session, so the refresh must still happen.
	t.Run("organization omitted", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

		c.handlePushEvent(domain.PushEvent{Type: domain.EventPaymentUpdated})

		waitFor(t, time.Second, func() bool { return deps.status.callCount() == 1 })
		if n := len(deps.notifier.all()); n != 0 {
			t.Errorf("payment-updated should refresh silently, got %d notices", n)
		}
	})

	t.Run("other organization", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

		c.handlePushEvent(domain.PushEvent{Type: domain.EventPaymentUpdated, OrganizationID: "org-2"})

		time.Sleep(50 * time.Millisecond)
		if got := deps.status.callCount(); got != 0 {
			t.Errorf("expected no refresh for another organization's billing event, got %d calls", got)
		}
	})
}

func TestCoordinator_PushForcedLogout(t *testing.T) {
	c, _ := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")

	var mu sync.Mutex
	var got string
	c.onForcedLogout = func(message string) {
		mu.Lock()
		got = message
		mu.Unlock()
	}

	c.handlePushEvent(domain.PushEvent{
		Type:           domain.EventForcedLogout,
		OrganizationID: "org-1",
		Message:        "Your access was revoked by an administrator.",
	})

	mu.Lock()
	defer mu.Unlock()
	if got != "Your access was revoked by an administrator." {
		t.Errorf("expected the forced-logout callback with the event message, got %q", got)
	}
}

func TestCoordinator_DashboardGatedByCapability(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
	ctx := context.Background()

	deps.account.mu.Lock()
	deps.account.info.Permissions = map[string]bool{CapViewDashboard: false}
	deps.account.mu.Unlock()

	if err := c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceAccount, Reason: domain.ReasonMount,
	}); err != nil {
		t.Fatalf("account refresh: %v", err)
	}
	if err := c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceDashboard, Reason: domain.ReasonMount,
	}); err != nil {
		t.Fatalf("dashboard refresh: %v", err)
	}

	if got := deps.dashboard.callCount(); got != 0 {
		t.Errorf("expected the capability gate to skip the fetch, got %d calls", got)
	}
	if c.Dashboard() != nil {
		t.Error("expected no dashboard snapshot without the capability")
	}
}

func TestCoordinator_RefreshFailureRouting(t *testing.T) {
	t.Run("silent failure stays quiet", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
		deps.status.err = &domain.ErrExternalService{Service: "subscription"}

		err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonInterval, Silent: true,
		})
		if err == nil {
			t.Fatal("expected an error")
		}
		if n := len(deps.notifier.all()); n != 0 {
			t.Errorf("silent failure must not toast, got %d notices", n)
		}
		if c.Status() != nil {
			t.Error("expected no snapshot after a failed first fetch")
		}
	})

	t.Run("non-silent failure toasts", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
		deps.status.err = &domain.ErrExternalService{Service: "subscription"}

		if err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
		}); err == nil {
			t.Fatal("expected an error")
		}

		notices := deps.notifier.all()
		if len(notices) != 1 || notices[0].Level != domain.NoticeError {
			t.Errorf("expected one error toast, got %v", notices)
		}
	})

	t.Run("unauthorized triggers the auth-failure hook", func(t *testing.T) {
		c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
		deps.status.err = &domain.ErrUnauthorized{}

		called := make(chan struct{})
		c.onAuthFailure = func() { close(called) }

		if err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonManual,
		}); err == nil {
			t.Fatal("expected an error")
		}
		select {
		case <-called:
		case <-time.After(time.Second):
			t.Error("expected the auth-failure hook to run")
		}
		if n := len(deps.notifier.all()); n != 0 {
			t.Errorf("401 routes to sign-out, not a retry toast; got %d notices", n)
		}
	})
}

func TestCoordinator_OrganizationMismatchRejected(t *testing.T) {
	c, deps := newTestCoordinator(t, CoordinatorConfig{Debounce: time.Millisecond}, "org-1")
	deps.account.mu.Lock()
	deps.account.info.Customer.OrganizationID = "org-9"
	deps.account.mu.Unlock()

	err := c.RequestRefresh(context.Background(), domain.RefreshRequest{
		Resource: domain.ResourceAccount, Reason: domain.ReasonManual,
	})
	if err == nil {
		t.Fatal("expected an error for a mismatched organization")
	}
	if c.Permissions() != nil {
		t.Error("expected no permission snapshot from a mismatched payload")
	}
}
