package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultNominatimTimeout = 10 * time.Second
	nominatimUserAgent      = "geobatch/1.0 (batch geocoding)"

	// Nominatim has no match-quality score on /search; the dashboard has
	// always shown a flat confidence for successful hits.
	nominatimConfidence = 0.95
)

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NominatimProvider geocodes against a Nominatim-compatible endpoint.
type NominatimProvider struct {
	client  *resty.Client
	baseURL string
}

func NewNominatimProvider(baseURL string) (*NominatimProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultNominatimTimeout)
	client.SetRetryCount(0)

	return NewNominatimProviderWithClient(baseURL, client)
}

func NewNominatimProviderWithClient(baseURL string, client *resty.Client) (*NominatimProvider, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("nominatim base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid nominatim base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultNominatimTimeout)
	}
	client.SetRetryCount(0)
	client.SetHeader("User-Agent", nominatimUserAgent)

	return &NominatimProvider{
		client:  client,
		baseURL: trimmedURL,
	}, nil
}

func (p *NominatimProvider) Name() string { return "nominatim" }

func (p *NominatimProvider) Geocode(ctx context.Context, fields AddressFields) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	query := oneLineQuery(fields)
	if query == "" {
		return nil, ErrNoMatch
	}

	var places []nominatimPlace
	response, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":              query,
			"format":         "json",
			"limit":          "1",
			"addressdetails": "1",
		}).
		SetResult(&places).
		Get(p.baseURL + "/search")
	if err != nil {
		return nil, &GeocodeError{
			Message:   "geocode request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &GeocodeError{
			Message:   "geocoder returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &GeocodeError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("geocoder returned status %d", statusCode),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	if len(places) == 0 {
		return nil, ErrNoMatch
	}

	place := places[0]
	lat, latErr := strconv.ParseFloat(place.Lat, 64)
	lng, lngErr := strconv.ParseFloat(place.Lon, 64)
	if latErr != nil || lngErr != nil {
		return nil, &GeocodeError{
			Message:   fmt.Sprintf("geocoder returned unparseable coordinates %q,%q", place.Lat, place.Lon),
			Transient: false,
		}
	}

	return &Result{
		Lat:              lat,
		Lng:              lng,
		FormattedAddress: place.DisplayName,
		Confidence:       nominatimConfidence,
	}, nil
}

func oneLineQuery(fields AddressFields) string {
	parts := make([]string, 0, 6)
	for _, part := range []string{fields.Address, fields.Landmark, fields.City, fields.State, fields.Zip, fields.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
