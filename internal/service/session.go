package service

import (
	"context"
	"sync"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/port"

	"go.uber.org/zap"
)

// SessionState is the boundary guard's resolution state.
type SessionState string

const (
	SessionLoading         SessionState = "loading"
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
)

// SessionGuard resolves the persisted identity before anything else runs
// and owns the sign-out path. Nothing behind the guard mounts while it is
// still loading, so protected code never observes a half-resolved session.
type SessionGuard struct {
	identity port.IdentityStore
	verifier port.TokenVerifier
	notifier port.Notifier
	logger   *zap.Logger

	mu    sync.RWMutex
	state SessionState
	ident *domain.Identity

	coordinator *Coordinator
}

// NewSessionGuard creates a guard in the loading state.
func NewSessionGuard(identity port.IdentityStore, verifier port.TokenVerifier, notifier port.Notifier, logger *zap.Logger) *SessionGuard {
	return &SessionGuard{
		identity: identity,
		verifier: verifier,
		notifier: notifier,
		logger:   logger,
		state:    SessionLoading,
	}
}

// AttachCoordinator wires the coordinator the guard tears down on
// sign-out. Set once during startup, before any logout path can run.
func (g *SessionGuard) AttachCoordinator(c *Coordinator) {
	g.mu.Lock()
	g.coordinator = c
	g.mu.Unlock()
}

// Resolve loads the persisted identity and verifies its token against the
// server. The guard stays in the loading state until the check resolves;
// a verification transport error keeps it there so the caller can retry,
// while a definitive "invalid" answer clears the stale identity.
func (g *SessionGuard) Resolve(ctx context.Context) (SessionState, error) {
	ident, err := g.identity.Load()
	if err != nil {
		g.logger.Warn("failed to read persisted identity", zap.Error(err))
		g.setState(SessionUnauthenticated, nil)
		return SessionUnauthenticated, nil
	}
	if ident == nil || ident.Token == "" {
		g.setState(SessionUnauthenticated, nil)
		return SessionUnauthenticated, nil
	}

	valid, err := g.verifier.VerifyToken(ctx, ident.Token)
	if err != nil {
		// No answer yet: remain loading rather than guess.
		return SessionLoading, err
	}
	if !valid {
		g.logger.Info("persisted token rejected, clearing identity",
			zap.String("user_id", ident.UserID),
		)
		if clearErr := g.identity.Clear(); clearErr != nil {
			g.logger.Warn("failed to clear identity", zap.Error(clearErr))
		}
		g.setState(SessionUnauthenticated, nil)
		return SessionUnauthenticated, nil
	}

	g.setState(SessionAuthenticated, ident)
	g.logger.Info("session resolved",
		zap.String("user_id", ident.UserID),
		zap.String("organization_id", ident.OrganizationID),
	)
	return SessionAuthenticated, nil
}

// State returns the guard's current resolution state.
func (g *SessionGuard) State() SessionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Token returns the resolved session token, empty when unauthenticated.
// Usable as a client TokenProvider.
func (g *SessionGuard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.ident == nil {
		return ""
	}
	return g.ident.Token
}

// OrganizationID returns the resolved session's organization scope.
func (g *SessionGuard) OrganizationID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.ident == nil {
		return ""
	}
	return g.ident.OrganizationID
}

// UserID returns the resolved session's user id.
func (g *SessionGuard) UserID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.ident == nil {
		return ""
	}
	return g.ident.UserID
}

// ForceLogout tears the session down: toast, coordinator stop, snapshot
// discard, persisted identity cleared. This is the whole-session path, a
// different severity than an in-place permission sync. Idempotent.
func (g *SessionGuard) ForceLogout(message string) {
	g.mu.Lock()
	if g.state == SessionUnauthenticated {
		g.mu.Unlock()
		return
	}
	g.state = SessionUnauthenticated
	g.ident = nil
	coord := g.coordinator
	g.mu.Unlock()

	if message == "" {
		message = "You have been signed out."
	}
	g.notifier.Notify(domain.Notice{Level: domain.NoticeError, Message: message})

	if coord != nil {
		coord.Stop()
		coord.Reset()
	}
	if err := g.identity.Clear(); err != nil {
		g.logger.Warn("failed to clear identity on logout", zap.Error(err))
	}
	g.logger.Info("session torn down", zap.String("message", message))
}

// HandleAuthFailure is the coordinator hook for a fetch answering 401.
func (g *SessionGuard) HandleAuthFailure() {
	g.ForceLogout("Your session has expired. Please sign in again.")
}

func (g *SessionGuard) setState(state SessionState, ident *domain.Identity) {
	g.mu.Lock()
	g.state = state
	g.ident = ident
	g.mu.Unlock()
}
