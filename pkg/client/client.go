// Package client is the Go client for the geobatch HTTP API, including a
// polling engine for tracking batch progress.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRequestTimeout = 30 * time.Second

var (
	// ErrUnauthorized means the credential was rejected; polling loops stop
	// rather than retry on it.
	ErrUnauthorized = errors.New("unauthorized")

	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// APIError is a non-2xx response that does not map to a sentinel.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Batch mirrors the server's batch job payload.
type Batch struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	TotalRows     int       `json:"totalRows"`
	ProcessedRows int       `json:"processedRows"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Terminal reports whether the batch has reached a final state.
func (b *Batch) Terminal() bool {
	return b.Status == "complete" || b.Status == "failed"
}

// Row is one entry of a batch status preview.
type Row struct {
	Index            int        `json:"index"`
	Address          string     `json:"address"`
	Status           string     `json:"status"`
	Lat              *float64   `json:"lat,omitempty"`
	Lng              *float64   `json:"lng,omitempty"`
	FormattedAddress string     `json:"formattedAddress,omitempty"`
	Error            string     `json:"error,omitempty"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}

// BatchStatus is a batch job with its rolling result preview.
type BatchStatus struct {
	Batch
	Preview []Row `json:"preview"`
}

// Usage is the owner's quota consumption for the current month.
type Usage struct {
	Period    string `json:"period"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// LookupResult is a synchronous single-address geocode outcome.
type LookupResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formattedAddress"`
	Confidence       float64 `json:"confidence"`
}

type listBatchesEnvelope struct {
	Data []Batch `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

type Client struct {
	http *resty.Client
}

func New(baseURL, token string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("api token is required")
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetTimeout(defaultRequestTimeout)

	return &Client{http: httpClient}, nil
}

// SubmitBatch uploads a CSV and returns the queued batch job.
func (c *Client) SubmitBatch(ctx context.Context, filename string, file io.Reader) (*Batch, error) {
	var batch Batch
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, file).
		SetResult(&batch).
		Post("/v1/batches")
	if err != nil {
		return nil, fmt.Errorf("submit batch request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchStatus fetches one polling snapshot of a batch job.
func (c *Client) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	var status BatchStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/v1/batches/" + batchID)
	if err != nil {
		return nil, fmt.Errorf("batch status request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &status, nil
}

// DownloadBatch returns the result CSV of a finished batch.
func (c *Client) DownloadBatch(ctx context.Context, batchID string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/v1/batches/" + batchID + "/download")
	if err != nil {
		return nil, fmt.Errorf("batch download request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// ListBatches returns the account's batches, newest first.
func (c *Client) ListBatches(ctx context.Context) ([]Batch, error) {
	var envelope listBatchesEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&envelope).
		Get("/v1/batches")
	if err != nil {
		return nil, fmt.Errorf("list batches request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Lookup geocodes a single address synchronously.
func (c *Client) Lookup(ctx context.Context, address string) (*LookupResult, error) {
	var result LookupResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("address", address).
		SetResult(&result).
		Get("/v1/geocode")
	if err != nil {
		return nil, fmt.Errorf("lookup request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &result, nil
}

// Usage returns the account's current-month quota consumption.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var usage Usage
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&usage).
		Get("/v1/usage")
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &usage, nil
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	message := strings.TrimSpace(string(resp.Body()))
	var envelope errorEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	default:
		return &APIError{StatusCode: resp.StatusCode(), Message: message}
	}
}
