// Package service implements the account state & live synchronization
// coordinator: the single writer of the session's snapshot stores.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/observability"
	"github.com/boddenberg/property-dashboard-sync-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service/coordinator")

// CapViewDashboard gates the dependent dashboard aggregate refresh.
const CapViewDashboard = "can_view_dashboard"

const dashboardCacheKey = "summary"

// CoordinatorConfig holds the coordinator's cadence tunables.
type CoordinatorConfig struct {
	SubscriptionPollInterval time.Duration
	DashboardPollInterval    time.Duration
	Debounce                 time.Duration
	TrialFallbackDays        int
}

// Coordinator consumes trigger signals, de-duplicates and orders them,
// invokes the fetchers, and publishes new snapshots only when they are
// newer than what is currently held. It owns every timer and push
// subscription it creates; Stop releases all of them.
//
// Concurrency rules it guarantees:
//   - at most one in-flight fetch per resource key (joiners share it)
//   - a result is applied only if no newer result was already applied,
//     ordered by a coordinator-assigned token, not arrival order
//   - same-key requests inside the debounce window collapse to one call
//   - distinct resource keys never block each other
//   - results admitted under an older session epoch are discarded
type Coordinator struct {
	cfg CoordinatorConfig

	status    port.StatusFetcher
	account   port.AccountFetcher
	dashboard port.DashboardFetcher
	pushSrc   port.PushSource
	dashCache port.Cache[*domain.DashboardSummary]

	notifier port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger

	organizationID string

	// onAuthFailure is invoked when any fetch answers 401; the session
	// guard decides what sign-out means.
	onAuthFailure func()
	// onForcedLogout is invoked for the forced-logout push event, which
	// is a different severity than an in-place permission sync.
	onForcedLogout func(message string)

	statusStore  *Store[domain.StatusSnapshot]
	permStore    *Store[domain.PermissionSnapshot]
	accountStore *Store[domain.AccountInfo]
	dashStore    *Store[domain.DashboardSummary]

	seq   atomic.Uint64
	epoch atomic.Uint64

	flight  singleflight.Group
	mu      sync.Mutex
	lastRun map[domain.ResourceKey]time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
	started     bool

	trialFallbackWarn sync.Once
}

// CoordinatorDeps groups the coordinator's injected collaborators.
type CoordinatorDeps struct {
	Status    port.StatusFetcher
	Account   port.AccountFetcher
	Dashboard port.DashboardFetcher
	Push      port.PushSource
	DashCache port.Cache[*domain.DashboardSummary]
	Notifier  port.Notifier
	Metrics   *observability.Metrics
	Logger    *zap.Logger

	OrganizationID string
	OnAuthFailure  func()
	OnForcedLogout func(message string)
}

// NewCoordinator creates a coordinator for one authenticated session.
func NewCoordinator(cfg CoordinatorConfig, deps CoordinatorDeps) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 1500 * time.Millisecond
	}
	if cfg.SubscriptionPollInterval <= 0 {
		cfg.SubscriptionPollInterval = 5 * time.Minute
	}
	if cfg.DashboardPollInterval <= 0 {
		cfg.DashboardPollInterval = 30 * time.Second
	}
	if cfg.TrialFallbackDays <= 0 {
		cfg.TrialFallbackDays = 14
	}
	return &Coordinator{
		cfg:            cfg,
		status:         deps.Status,
		account:        deps.Account,
		dashboard:      deps.Dashboard,
		pushSrc:        deps.Push,
		dashCache:      deps.DashCache,
		notifier:       deps.Notifier,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		organizationID: deps.OrganizationID,
		onAuthFailure:  deps.OnAuthFailure,
		onForcedLogout: deps.OnForcedLogout,
		statusStore:    NewStore[domain.StatusSnapshot](),
		permStore:      NewStore[domain.PermissionSnapshot](),
		accountStore:   NewStore[domain.AccountInfo](),
		dashStore:      NewStore[domain.DashboardSummary](),
		lastRun:        make(map[domain.ResourceKey]time.Time),
	}
}

// ============================================================
// Published state accessors (read side)
// ============================================================

// Status returns the last published lifecycle snapshot, nil before first
// population.
func (c *Coordinator) Status() *domain.StatusSnapshot { return c.statusStore.Latest() }

// Permissions returns the last published permission snapshot.
func (c *Coordinator) Permissions() *domain.PermissionSnapshot { return c.permStore.Latest() }

// Account returns the last published account info.
func (c *Coordinator) Account() *domain.AccountInfo { return c.accountStore.Latest() }

// Dashboard returns the last published dashboard aggregate.
func (c *Coordinator) Dashboard() *domain.DashboardSummary { return c.dashStore.Latest() }

// Banner classifies the current status snapshot for rendering.
func (c *Coordinator) Banner() domain.Banner {
	return domain.ClassifyBanner(c.statusStore.Latest(), c.cfg.TrialFallbackDays)
}

// ============================================================
// Lifecycle
// ============================================================

// Start launches the timers and the push subscription. The initial mount
// fan-out runs synchronously so callers can sequence readiness on it;
// its failure is reported but does not prevent the timers from running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if c.pushSrc != nil {
		c.unsubscribe = c.pushSrc.Subscribe(c.handlePushEvent)
	}

	c.wg.Add(2)
	go c.pollLoop(c.ctx, c.cfg.SubscriptionPollInterval, c.subscriptionTick)
	go c.pollLoop(c.ctx, c.cfg.DashboardPollInterval, c.dashboardTick)

	return c.InitialSync(c.ctx)
}

// Stop tears the coordinator down: every timer stopped, the push
// subscription released, and the session epoch bumped so in-flight
// completions from before the stop cannot touch the stores.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.epoch.Add(1)
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.cancel()
	c.wg.Wait()
}

// Reset discards all published snapshots. Called on sign-out after Stop.
func (c *Coordinator) Reset() {
	c.statusStore.Clear()
	c.permStore.Clear()
	c.accountStore.Clear()
	c.dashStore.Clear()
	if c.dashCache != nil {
		c.dashCache.Delete(dashboardCacheKey)
	}
}

// InitialSync runs the initial-mount refresh fan-out: subscription status
// and account info concurrently, then the dashboard aggregate gated by
// the fetched permission set. Non-silent.
func (c *Coordinator) InitialSync(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.RequestRefresh(gCtx, domain.RefreshRequest{
			Resource: domain.ResourceSubscription, Reason: domain.ReasonMount,
		})
	})
	g.Go(func() error {
		return c.RequestRefresh(gCtx, domain.RefreshRequest{
			Resource: domain.ResourceAccount, Reason: domain.ReasonMount,
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceDashboard, Reason: domain.ReasonMount,
	})
}

// OnFocus is the "tab regained visibility" trigger: account info and
// dashboard aggregate, silently.
func (c *Coordinator) OnFocus() {
	go func() {
		ctx := c.sessionCtx()
		if err := c.RequestRefresh(ctx, domain.RefreshRequest{
			Resource: domain.ResourceAccount, Reason: domain.ReasonFocus, Silent: true,
		}); err != nil {
			return
		}
		_ = c.RequestRefresh(ctx, domain.RefreshRequest{
			Resource: domain.ResourceDashboard, Reason: domain.ReasonFocus, Silent: true,
		})
	}()
}

func (c *Coordinator) pollLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (c *Coordinator) subscriptionTick(ctx context.Context) {
	_ = c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceSubscription, Reason: domain.ReasonInterval, Silent: true,
	})
}

func (c *Coordinator) dashboardTick(ctx context.Context) {
	if err := c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceAccount, Reason: domain.ReasonInterval, Silent: true,
	}); err != nil {
		return
	}
	_ = c.RequestRefresh(ctx, domain.RefreshRequest{
		Resource: domain.ResourceDashboard, Reason: domain.ReasonInterval, Silent: true,
	})
}

func (c *Coordinator) sessionCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// ============================================================
// Refresh entry point
// ============================================================

// RequestRefresh is the single entry point all trigger sources feed.
// Same-key requests join an in-flight fetch or collapse inside the
// debounce window; distinct keys proceed independently.
func (c *Coordinator) RequestRefresh(ctx context.Context, req domain.RefreshRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := req.Resource

	c.mu.Lock()
	if last, ok := c.lastRun[key]; ok && time.Since(last) < c.cfg.Debounce {
		c.mu.Unlock()
		c.metrics.IncrDebounced(string(key))
		return nil
	}
	c.lastRun[key] = time.Now()
	c.mu.Unlock()

	// singleflight is the sole in-flight tracker. Every caller offers the
	// real fetch; whoever is not elected leader blocks on the leader's
	// fetch and shares its result, so a joiner can never return before
	// the fetch it joined has run, and never misses its error.
	executed := false
	_, err, _ := c.flight.Do(string(key), func() (any, error) {
		executed = true
		c.metrics.IncrRefresh(string(key), string(req.Reason))
		return nil, c.refresh(ctx, req, c.epoch.Load())
	})
	if !executed {
		c.metrics.IncrCoalesced(string(key))
	}

	// Joiners still get the shared error back, but only the caller whose
	// closure ran routes it to notices and the auth-failure hook, so one
	// failed fetch produces one toast.
	if err != nil && executed {
		c.handleRefreshError(req, err)
	}
	return err
}

func (c *Coordinator) refresh(ctx context.Context, req domain.RefreshRequest, epoch uint64) error {
	ctx, span := tracer.Start(ctx, "Coordinator.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource", string(req.Resource)),
		attribute.String("reason", string(req.Reason)),
	)

	start := time.Now()
	defer func() {
		c.metrics.RecordRefreshDuration(string(req.Resource), time.Since(start))
	}()

	switch req.Resource {
	case domain.ResourceSubscription:
		return c.refreshSubscription(ctx, epoch)
	case domain.ResourceAccount:
		return c.refreshAccount(ctx, epoch, req.Silent)
	case domain.ResourceDashboard:
		return c.refreshDashboard(ctx, epoch)
	default:
		return &domain.ErrValidation{Field: "resource", Message: "unknown resource key"}
	}
}

func (c *Coordinator) handleRefreshError(req domain.RefreshRequest, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	var unauthorized *domain.ErrUnauthorized
	if errors.As(err, &unauthorized) {
		c.logger.Warn("refresh answered 401, forcing sign-out",
			zap.String("resource", string(req.Resource)),
		)
		if c.onAuthFailure != nil {
			// Detached: the sign-out path stops this coordinator and must
			// not run inside one of its own loops.
			go c.onAuthFailure()
		}
		return
	}

	c.metrics.IncrExternalError(string(req.Resource))
	c.logger.Warn("refresh failed, keeping last-known-good snapshot",
		zap.String("resource", string(req.Resource)),
		zap.String("reason", string(req.Reason)),
		zap.Bool("silent", req.Silent),
		zap.Error(err),
	)

	// Background reconciliation never interrupts the user; only
	// user-initiated or first-load fetches may surface failure.
	if !req.Silent {
		c.notifier.Notify(RefreshFailedNotice())
	}
}

// ============================================================
// Per-resource refreshes
// ============================================================

func (c *Coordinator) refreshSubscription(ctx context.Context, epoch uint64) error {
	snap, err := c.status.FetchSubscriptionStatus(ctx)
	if err != nil {
		return err
	}

	// Ordering token assigned at fetch completion, local only.
	seq := c.seq.Add(1)
	if !c.epochCurrent(epoch) {
		c.metrics.IncrStaleDrop(string(domain.ResourceSubscription))
		return nil
	}

	published := *snap
	published.FetchedAt = seq

	if published.State == domain.LifecycleTrial &&
		(published.TrialStartsAt == nil || published.TrialEndsAt == nil) {
		c.trialFallbackWarn.Do(func() {
			c.logger.Warn("trial window timestamps missing, using configured default trial length",
				zap.Int("default_trial_days", c.cfg.TrialFallbackDays),
			)
		})
	}

	if c.statusStore.Publish(&published, seq) {
		c.metrics.IncrPublish(string(domain.ResourceSubscription), seq)
		c.logger.Debug("subscription snapshot published",
			zap.String("state", string(published.State)),
			zap.Uint64("seq", seq),
		)
	} else {
		c.metrics.IncrStaleDrop(string(domain.ResourceSubscription))
	}
	return nil
}

func (c *Coordinator) refreshAccount(ctx context.Context, epoch uint64, silent bool) error {
	info, err := c.account.FetchAccountInfo(ctx)
	if err != nil {
		return err
	}

	if c.organizationID != "" && info.Customer.OrganizationID != c.organizationID {
		return &domain.ErrMalformed{
			Service: "account",
			Reason:  "organization mismatch for this session",
		}
	}

	seq := c.seq.Add(1)
	if !c.epochCurrent(epoch) {
		c.metrics.IncrStaleDrop(string(domain.ResourceAccount))
		return nil
	}

	// Permissions and plan name swap in one publish: no window where a
	// screen sees new permissions with stale plan data or vice versa.
	perms := &domain.PermissionSnapshot{
		OrganizationID: info.Customer.OrganizationID,
		Capabilities:   info.Permissions,
		PlanName:       info.Customer.Plan.Name,
		FetchedAt:      seq,
	}

	old := c.permStore.Latest()
	if !c.permStore.Publish(perms, seq) {
		c.metrics.IncrStaleDrop(string(domain.ResourceAccount))
		return nil
	}
	c.accountStore.Publish(info, seq)
	c.metrics.IncrPublish(string(domain.ResourceAccount), seq)

	if notice, ok := PlanChangeNotice(old, perms, silent); ok {
		c.notifier.Notify(notice)
		c.logger.Info("plan change detected",
			zap.String("old_plan", old.PlanName),
			zap.String("new_plan", perms.PlanName),
		)
	}
	return nil
}

func (c *Coordinator) refreshDashboard(ctx context.Context, epoch uint64) error {
	// Gated by the current permission set; after a permission sync this
	// runs only once the new snapshot is published.
	if perms := c.permStore.Latest(); perms != nil && !perms.Can(CapViewDashboard) {
		c.logger.Debug("dashboard refresh skipped, capability denied")
		c.dashStore.Clear()
		if c.dashCache != nil {
			c.dashCache.Delete(dashboardCacheKey)
		}
		return nil
	}

	if c.dashCache != nil {
		if _, ok := c.dashCache.Get(dashboardCacheKey); ok {
			c.metrics.IncrCacheHit("dashboard")
			return nil
		}
		c.metrics.IncrCacheMiss("dashboard")
	}

	summary, err := c.dashboard.FetchDashboardSummary(ctx)
	if err != nil {
		return err
	}

	seq := c.seq.Add(1)
	if !c.epochCurrent(epoch) {
		c.metrics.IncrStaleDrop(string(domain.ResourceDashboard))
		return nil
	}

	if c.dashStore.Publish(summary, seq) {
		c.metrics.IncrPublish(string(domain.ResourceDashboard), seq)
		if c.dashCache != nil {
			c.dashCache.Set(dashboardCacheKey, summary)
		}
	} else {
		c.metrics.IncrStaleDrop(string(domain.ResourceDashboard))
	}
	return nil
}

// epochCurrent reports whether a fetch admitted under the given epoch may
// still publish. False after teardown: a stale session must never write a
// new session's state.
func (c *Coordinator) epochCurrent(epoch uint64) bool {
	return c.epoch.Load() == epoch
}

// ============================================================
// Push events
// ============================================================

func (c *Coordinator) handlePushEvent(ev domain.PushEvent) {
	switch ev.Type {
	case domain.EventPermissionsUpdated:
		// Events may be broadcast to unrelated sessions on a shared
		// channel; only this session's organization matters.
		if ev.OrganizationID != c.organizationID {
			c.metrics.IncrPushEvent(string(ev.Type), "filtered")
			return
		}
		c.metrics.IncrPushEvent(string(ev.Type), "applied")

		// Unconditional on receipt; the plan-change toast in the refresh
		// path is a separate, diff-based decision.
		c.notifier.Notify(PermissionsUpdatedNotice())

		// An invalidation beats the aggregate cache's freshness window.
		if c.dashCache != nil {
			c.dashCache.Delete(dashboardCacheKey)
		}

		go func() {
			ctx := c.sessionCtx()
			// The event is an invalidation signal only: re-read from the
			// source of truth, never trust an embedded payload.
			if err := c.RequestRefresh(ctx, domain.RefreshRequest{
				Resource: domain.ResourceAccount, Reason: domain.ReasonPush, Silent: true,
			}); err != nil {
				return
			}
			_ = c.RequestRefresh(ctx, domain.RefreshRequest{
				Resource: domain.ResourceDashboard, Reason: domain.ReasonPush, Silent: true,
			})
		}()

	case domain.EventPaymentUpdated:
		// Billing events are not guaranteed to carry an organization id;
		// the channel is already subscribed to this session's scope, so
		// an absent id is trusted and only an explicit mismatch is dropped.
		if ev.OrganizationID != "" && ev.OrganizationID != c.organizationID {
			c.metrics.IncrPushEvent(string(ev.Type), "filtered")
			return
		}
		c.metrics.IncrPushEvent(string(ev.Type), "applied")
		go func() {
			_ = c.RequestRefresh(c.sessionCtx(), domain.RefreshRequest{
				Resource: domain.ResourceSubscription, Reason: domain.ReasonPush, Silent: true,
			})
		}()

	case domain.EventForcedLogout:
		c.metrics.IncrPushEvent(string(ev.Type), "applied")
		if c.onForcedLogout != nil {
			c.onForcedLogout(ev.Message)
		}

	default:
		c.metrics.IncrPushEvent(string(ev.Type), "ignored")
	}
}
