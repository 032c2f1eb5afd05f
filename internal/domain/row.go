package domain

import (
	"fmt"
	"strings"
	"time"
)

// RowStatus represents the outcome of geocoding a single row.
// Pending rows carry input fields only and are never surfaced in previews
// or result downloads.
type RowStatus string

const (
	RowStatusPending RowStatus = "pending"
	RowStatusOK      RowStatus = "ok"
	RowStatusError   RowStatus = "error"
)

func (s RowStatus) String() string { return string(s) }

func (s RowStatus) IsValid() bool {
	switch s {
	case RowStatusPending, RowStatusOK, RowStatusError:
		return true
	}
	return false
}

// Row is one address entry within a batch job.
type Row struct {
	BatchID  string
	Index    int
	Address  string
	Landmark string
	City     string
	State    string
	Zip      string
	Country  string

	Status           RowStatus
	Lat              *float64
	Lng              *float64
	FormattedAddress string
	ErrorReason      string
	ProcessedAt      *time.Time
}

func (r *Row) Validate() error {
	if strings.TrimSpace(r.BatchID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if r.Index < 0 {
		return fmt.Errorf("%w: row index must be >= 0", ErrValidation)
	}
	if !HasGeocodableAddress(r.Address) {
		return fmt.Errorf("%w: address is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid row status %q", ErrValidation, r.Status)
	}
	if r.Status == RowStatusError && strings.TrimSpace(r.ErrorReason) == "" {
		return fmt.Errorf("%w: error rows require a reason", ErrValidation)
	}
	return nil
}

// HasGeocodableAddress reports whether an address field should produce a row.
// Blank and literal "N/A" addresses are dropped before counting.
func HasGeocodableAddress(address string) bool {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return false
	}
	return !strings.EqualFold(trimmed, "N/A")
}
