package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/provider"
)

func newTestLookupService(t *testing.T, ledger *fakeLedger, geocoder *fakeGeocoder) *LookupService {
	t.Helper()

	svc, err := NewLookupService(ledger, geocoder, &fakeRateLimiter{}, nil, nil)
	if err != nil {
		t.Fatalf("NewLookupService() error = %v", err)
	}
	return svc
}

func TestLookupSpendsOneAttempt(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	svc := newTestLookupService(t, ledger, newFakeGeocoder())

	result, err := svc.Lookup(context.Background(), "acct-1", "10 Main St")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if result.FormattedAddress == "" {
		t.Fatal("result missing formatted address")
	}
	if ledger.reserved != 1 {
		t.Fatalf("reserved = %d, want 1", ledger.reserved)
	}
}

func TestLookupNoMatchStillSpendsQuota(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	geocoder := newFakeGeocoder()
	geocoder.fail["nowhere"] = provider.ErrNoMatch
	svc := newTestLookupService(t, ledger, geocoder)

	_, err := svc.Lookup(context.Background(), "acct-1", "nowhere")
	if !errors.Is(err, provider.ErrNoMatch) {
		t.Fatalf("Lookup() error = %v, want ErrNoMatch", err)
	}
	if ledger.reserved != 1 {
		t.Fatalf("reserved = %d, want 1: a no-match attempt is still an attempt", ledger.reserved)
	}
	if ledger.released != 0 {
		t.Fatalf("released = %d, want 0", ledger.released)
	}
}

func TestLookupRejectsNonGeocodableAddress(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	svc := newTestLookupService(t, ledger, newFakeGeocoder())

	for _, address := range []string{"", "   ", "N/A", "n/a"} {
		if _, err := svc.Lookup(context.Background(), "acct-1", address); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Lookup(%q) error = %v, want ErrValidation", address, err)
		}
	}
	if ledger.reserved != 0 {
		t.Fatalf("reserved = %d, want 0 for rejected input", ledger.reserved)
	}
}

func TestLookupQuotaExceeded(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{reserveErr: domain.ErrQuotaExceeded}
	geocoder := newFakeGeocoder()
	svc := newTestLookupService(t, ledger, geocoder)

	_, err := svc.Lookup(context.Background(), "acct-1", "10 Main St")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("Lookup() error = %v, want ErrQuotaExceeded", err)
	}
	if calls := geocoder.callCount("10 Main St"); calls != 0 {
		t.Fatalf("geocode calls = %d, want 0 when quota is exhausted", calls)
	}
}
