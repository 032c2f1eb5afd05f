package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/observability"
	"github.com/smartgeocode/geobatch/internal/provider"
	"github.com/smartgeocode/geobatch/internal/ratelimit"
	"go.uber.org/zap"
)

// LookupService performs synchronous single-address geocoding. A lookup
// spends one quota attempt whether or not the provider finds a match.
type LookupService struct {
	ledger      QuotaLedger
	geocoder    provider.Geocoder
	rateLimiter ratelimit.RateLimiter
	metrics     *observability.Metrics
	logger      *zap.Logger

	now func() time.Time
}

func NewLookupService(
	ledger QuotaLedger,
	geocoder provider.Geocoder,
	rateLimiter ratelimit.RateLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*LookupService, error) {
	if ledger == nil || geocoder == nil || rateLimiter == nil {
		return nil, fmt.Errorf("quota ledger, geocoder, and rate limiter are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LookupService{
		ledger:      ledger,
		geocoder:    geocoder,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *LookupService) Lookup(ctx context.Context, owner, address string) (*provider.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	address = strings.TrimSpace(address)
	if !domain.HasGeocodableAddress(address) {
		return nil, fmt.Errorf("%w: a geocodable address is required", domain.ErrValidation)
	}

	if err := s.ledger.CheckAndReserve(ctx, owner, 1); err != nil {
		return nil, err
	}

	if err := s.rateLimiter.Wait(ctx, s.geocoder.Name()); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := s.now()
	result, err := s.geocoder.Geocode(ctx, provider.AddressFields{Address: address})
	s.metrics.ObserveGeocodeDuration(s.geocoder.Name(), s.now().Sub(start))
	if err != nil {
		s.logger.Debug("lookup failed",
			zap.String("owner", owner),
			zap.Error(err),
		)
		return nil, err
	}

	return result, nil
}
