// Package auth integrates the external credential-issuing collaborator. The
// engine treats bearer tokens as opaque: verification is delegated over HTTP
// and only the resolved account id is kept.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smartgeocode/geobatch/internal/domain"
)

const defaultVerifyTimeout = 5 * time.Second

// Verifier resolves a bearer credential to its owning account.
type Verifier interface {
	// Verify returns the account id for a valid token and
	// domain.ErrUnauthorized for an invalid or expired one.
	Verify(ctx context.Context, token string) (string, error)
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	AccountID string `json:"accountId"`
}

// HTTPVerifier verifies tokens against the auth collaborator's verify
// endpoint.
type HTTPVerifier struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPVerifier(endpoint string) (*HTTPVerifier, error) {
	client := resty.New()
	client.SetTimeout(defaultVerifyTimeout)
	client.SetRetryCount(0)

	return NewHTTPVerifierWithClient(endpoint, client)
}

func NewHTTPVerifierWithClient(endpoint string, client *resty.Client) (*HTTPVerifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("auth verify endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid auth verify endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	return &HTTPVerifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	if v == nil || v.client == nil {
		return "", fmt.Errorf("verifier is not initialized")
	}
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing credential", domain.ErrUnauthorized)
	}

	var result verifyResponse
	response, err := v.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(verifyRequest{Token: token}).
		SetResult(&result).
		Post(v.endpoint)
	if err != nil {
		return "", fmt.Errorf("auth verify request failed: %w", err)
	}

	statusCode := response.StatusCode()
	switch {
	case statusCode == http.StatusOK:
		accountID := strings.TrimSpace(result.AccountID)
		if accountID == "" {
			return "", fmt.Errorf("%w: verify response missing account id", domain.ErrUnauthorized)
		}
		return accountID, nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: credential rejected", domain.ErrUnauthorized)
	default:
		return "", fmt.Errorf("auth verify returned status %d", statusCode)
	}
}
