package provider

import "context"

// AddressFields is the input for one geocode lookup.
type AddressFields struct {
	Address  string
	Landmark string
	City     string
	State    string
	Zip      string
	Country  string
}

// Result is a successful geocode outcome.
type Result struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
	Confidence       float64
}

// Geocoder is the outbound geocoding port.
type Geocoder interface {
	// Geocode resolves the address fields to coordinates. A lookup that
	// produces no match fails with ErrNoMatch; infrastructure failures are
	// reported as *GeocodeError.
	Geocode(ctx context.Context, fields AddressFields) (*Result, error)

	// Name identifies the provider for metrics and rate-limit keys.
	Name() string
}
