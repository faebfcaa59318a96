// Package auth verifies bearer tokens against the platform's identity
// service. The payment engine does not mint or store tokens itself; it
// only introspects them.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// TokenVerifier resolves a bearer token to an authenticated identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.AuthenticatedIdentity, error)
}

// IntrospectionConfig configures the HTTP token verifier.
type IntrospectionConfig struct {
	// Endpoint is the identity service's token introspection URL.
	Endpoint string

	// APIKey authenticates this service to the identity service.
	APIKey string

	Timeout time.Duration
}

// IntrospectionClient verifies tokens by POSTing them to the identity
// service's introspection endpoint.
type IntrospectionClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewIntrospectionClient(cfg IntrospectionConfig) *IntrospectionClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &IntrospectionClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	Country  string `json:"country"`
}

func (c *IntrospectionClient) Verify(ctx context.Context, token string) (domain.AuthenticatedIdentity, error) {
	var zero domain.AuthenticatedIdentity

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return zero, domain.Internal(err, "auth.verify", "failed to encode introspection request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, domain.Internal(err, "auth.verify", "failed to build introspection request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, domain.Unavailable(err, "auth.verify", "identity service is unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return zero, domain.Unauthorized("auth.verify",
			fmt.Sprintf("token introspection failed with status %d", resp.StatusCode))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return zero, domain.Internal(err, "auth.verify", "failed to read introspection response")
	}

	var ir introspectionResponse
	if err := json.Unmarshal(payload, &ir); err != nil {
		return zero, domain.Internal(err, "auth.verify", "malformed introspection response")
	}
	if !ir.Active {
		return zero, domain.Unauthorized("auth.verify", "token is not active")
	}

	userID, err := uuid.Parse(ir.UserID)
	if err != nil {
		return zero, domain.Unauthorized("auth.verify", "token has no valid user")
	}
	tenantID, err := uuid.Parse(ir.TenantID)
	if err != nil {
		return zero, domain.Unauthorized("auth.verify", "token has no valid tenant")
	}

	return domain.AuthenticatedIdentity{
		UserID:   userID,
		TenantID: tenantID,
		Role:     domain.Role(ir.Role),
		Email:    ir.Email,
		Country:  ir.Country,
	}, nil
}

// MockVerifier implements TokenVerifier with a function field for testing.
type MockVerifier struct {
	VerifyFunc func(ctx context.Context, token string) (domain.AuthenticatedIdentity, error)
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (domain.AuthenticatedIdentity, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token)
	}
	return domain.AuthenticatedIdentity{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Role:     domain.RoleAdmin,
	}, nil
}
