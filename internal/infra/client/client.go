// Package client implements the upstream fetchers: subscription status,
// account info, dashboard aggregate and token verification. Every fetcher
// is pure request/response with an explicit parse/validate step at the
// boundary, so a malformed payload is a classified failure rather than a
// zero value leaking into rendering logic.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("client")

// TokenProvider supplies the current session bearer token. The session
// guard owns the token; clients only read it at request time so a token
// refresh never requires rebuilding the clients.
type TokenProvider func() string

type base struct {
	httpClient *http.Client
	baseURL    string
	token      TokenProvider
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

func (b *base) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if b.token != nil {
		if t := b.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// execute runs fn under the circuit breaker and retry policy, mapping
// breaker and context errors onto the domain taxonomy.
func (b *base) execute(ctx context.Context, service string, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, b.cfg, fn)
	})
	if err == nil {
		return nil
	}

	var unauthorized *domain.ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

// checkStatus maps upstream HTTP status codes onto the error taxonomy.
func checkStatus(resp *http.Response, service string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.ErrUnauthorized{}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.ErrNotFound{Resource: service, ID: ""}
	default:
		return fmt.Errorf("%s API returned status %d", service, resp.StatusCode)
	}
}
