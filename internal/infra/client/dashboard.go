package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// DashboardClient fetches the dashboard aggregate for the screens.
// A bulkhead caps concurrent aggregate fetches: the aggregate is the
// heaviest upstream call and every trigger source can ask for it.
type DashboardClient struct {
	base
	bulkhead *resilience.Bulkhead
}

// NewDashboardClient creates a new DashboardClient.
func NewDashboardClient(httpClient *http.Client, baseURL string, token TokenProvider, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *DashboardClient {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &DashboardClient{
		base: base{
			httpClient: httpClient,
			baseURL:    baseURL,
			token:      token,
			cb:         cb,
			cfg:        cfg,
		},
		bulkhead: resilience.NewBulkhead(maxConcurrency),
	}
}

// FetchDashboardSummary fetches the aggregate.
func (c *DashboardClient) FetchDashboardSummary(ctx context.Context) (*domain.DashboardSummary, error) {
	ctx, span := tracer.Start(ctx, "DashboardClient.FetchDashboardSummary")
	defer span.End()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "dashboard bulkhead"}
	}
	defer c.bulkhead.Release()

	var summary domain.DashboardSummary

	err := c.execute(ctx, "dashboard", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/v1/dashboard/summary")
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "dashboard"); err != nil {
			return err
		}

		return json.NewDecoder(resp.Body).Decode(&summary)
	})
	if err != nil {
		return nil, err
	}

	return &summary, nil
}
