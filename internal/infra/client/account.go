package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// AccountClient fetches account info: user, customer/plan and permissions.
type AccountClient struct {
	base
}

// NewAccountClient creates a new AccountClient.
func NewAccountClient(httpClient *http.Client, baseURL string, token TokenProvider, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *AccountClient {
	return &AccountClient{base{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		cb:         cb,
		cfg:        cfg,
	}}
}

type accountInfoWire struct {
	User *struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		BaseCurrency string `json:"base_currency"`
	} `json:"user"`
	Customer *struct {
		OrganizationID string `json:"organization_id"`
		Plan           *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"plan"`
	} `json:"customer"`
	Permissions map[string]bool `json:"permissions"`
}

// FetchAccountInfo fetches and validates the combined account payload.
func (c *AccountClient) FetchAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	ctx, span := tracer.Start(ctx, "AccountClient.FetchAccountInfo")
	defer span.End()

	var wire accountInfoWire

	err := c.execute(ctx, "account", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/v1/account/info")
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "account"); err != nil {
			return err
		}

		return json.NewDecoder(resp.Body).Decode(&wire)
	})
	if err != nil {
		return nil, err
	}

	info, err := wire.toAccountInfo()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("account.organization_id", info.Customer.OrganizationID),
		attribute.String("account.plan", info.Customer.Plan.Name),
	)
	return info, nil
}

func (w *accountInfoWire) toAccountInfo() (*domain.AccountInfo, error) {
	if w.User == nil {
		return nil, &domain.ErrMalformed{Service: "account", Reason: "missing user"}
	}
	if w.Customer == nil || w.Customer.OrganizationID == "" {
		return nil, &domain.ErrMalformed{Service: "account", Reason: "missing customer organization"}
	}
	if w.Customer.Plan == nil || w.Customer.Plan.Name == "" {
		return nil, &domain.ErrMalformed{Service: "account", Reason: "missing plan"}
	}
	if w.Permissions == nil {
		return nil, &domain.ErrMalformed{Service: "account", Reason: "missing permissions"}
	}

	return &domain.AccountInfo{
		User: domain.AccountUser{
			ID:           w.User.ID,
			Name:         w.User.Name,
			Email:        w.User.Email,
			BaseCurrency: w.User.BaseCurrency,
		},
		Customer: domain.AccountCustomer{
			OrganizationID: w.Customer.OrganizationID,
			Plan: domain.AccountPlan{
				ID:   w.Customer.Plan.ID,
				Name: w.Customer.Plan.Name,
			},
		},
		Permissions: w.Permissions,
	}, nil
}
