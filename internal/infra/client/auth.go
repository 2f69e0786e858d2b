package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// AuthClient verifies session tokens against the server.
type AuthClient struct {
	base
}

// NewAuthClient creates a new AuthClient. Token verification carries the
// token in the body, not the Authorization header, so no TokenProvider.
func NewAuthClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *AuthClient {
	return &AuthClient{base{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}}
}

// VerifyToken checks whether the persisted token is still valid.
// A reachable server answering "invalid" is (false, nil); an unreachable
// server is an error, so the boundary guard can tell the two apart.
func (c *AuthClient) VerifyToken(ctx context.Context, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "AuthClient.VerifyToken")
	defer span.End()

	var result struct {
		Valid bool `json:"valid"`
	}

	err := c.execute(ctx, "auth", func() error {
		body, err := json.Marshal(map[string]string{"token": token})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/verify-token", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// 401 here means "token invalid", which is an answer, not a failure.
		if resp.StatusCode == http.StatusUnauthorized {
			result.Valid = false
			return nil
		}
		if err := checkStatus(resp, "auth"); err != nil {
			return err
		}

		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return false, err
	}

	return result.Valid, nil
}
