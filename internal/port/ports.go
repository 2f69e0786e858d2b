// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
)

// StatusFetcher retrieves the subscription lifecycle status.
// Implementations are pure request/response: no local caching logic.
type StatusFetcher interface {
	FetchSubscriptionStatus(ctx context.Context) (*domain.StatusSnapshot, error)
}

// AccountFetcher retrieves account info: user, customer/plan and the
// current permission set in one response.
type AccountFetcher interface {
	FetchAccountInfo(ctx context.Context) (*domain.AccountInfo, error)
}

// DashboardFetcher retrieves the dashboard aggregate for the screens.
type DashboardFetcher interface {
	FetchDashboardSummary(ctx context.Context) (*domain.DashboardSummary, error)
}

// TokenVerifier checks a persisted session token against the server.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (bool, error)
}

// Notifier receives user-facing notices from the coordinator and the
// notification policy. Implementations must be non-blocking.
type Notifier interface {
	Notify(notice domain.Notice)
}

// PushSource is the persistent channel capability. Delivery guarantees are
// the transport's business; consumers treat events as invalidation signals.
type PushSource interface {
	// Subscribe registers a handler for inbound events. The returned
	// function unsubscribes; it must be called on teardown.
	Subscribe(handler func(domain.PushEvent)) (unsubscribe func())
}

// IdentityStore reads and clears the locally persisted session identity.
type IdentityStore interface {
	Load() (*domain.Identity, error)
	Clear() error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
