package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/c-answer-server/internal/domain"
)

// ResilientClient wraps the registry and postal clients with circuit breakers
// and an optional shared Redis cache. The oracle is deliberately not wrapped:
// its failures already degrade to error verdicts at the client, and tripping a
// breaker there would turn one bad call into a blanket "Service Error" page.
type ResilientClient struct {
	registry *RegistryClient
	postal   *PostalClient
	cache    *CacheClient // nil when caching is disabled

	registryBreaker *gobreaker.CircuitBreaker
	postalBreaker   *gobreaker.CircuitBreaker

	logger *logrus.Logger
}

// NewResilientClient creates the wrapped external clients. cache may be nil.
func NewResilientClient(registry *RegistryClient, postal *PostalClient, cache *CacheClient, logger *logrus.Logger) *ResilientClient {
	if logger == nil {
		logger = logrus.New()
	}

	onStateChange := func(name string, from gobreaker.State, to gobreaker.State) {
		logger.WithFields(logrus.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	}

	registryBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Registry",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: onStateChange,
	})

	postalBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Postal",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: onStateChange,
	})

	return &ResilientClient{
		registry:        registry,
		postal:          postal,
		cache:           cache,
		registryBreaker: registryBreaker,
		postalBreaker:   postalBreaker,
		logger:          logger,
	}
}

// Search queries the registry with caching and circuit breaking. An open
// breaker is reported as registry unavailability, same as a direct failure.
func (r *ResilientClient) Search(ctx context.Context, condition string) ([]domain.TrialRecord, error) {
	if r.cache != nil {
		if trials, found, err := r.cache.GetSearchResults(ctx, condition); err == nil && found {
			return trials, nil
		}
	}

	result, err := r.registryBreaker.Execute(func() (interface{}, error) {
		return r.registry.Search(ctx, condition)
	})
	if err != nil {
		// Both the open state and the half-open request cap are breaker
		// rejections, not new registry failures.
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit breaker rejected the request", domain.ErrRegistryUnavailable)
		}
		return nil, err
	}

	trials := result.([]domain.TrialRecord)

	if r.cache != nil {
		if cacheErr := r.cache.SetSearchResults(ctx, condition, trials, 0); cacheErr != nil {
			r.logger.WithError(cacheErr).Warn("Failed to cache registry search results")
		}
	}

	return trials, nil
}

// Resolve resolves a postal centroid through the shared cache, then the
// breaker-wrapped client. A failed or open-breaker lookup reports the code as
// unresolvable rather than failing the search it belongs to.
func (r *ResilientClient) Resolve(ctx context.Context, postalCode string) (float64, float64, bool, error) {
	if r.cache != nil {
		if centroid, found, err := r.cache.GetCentroid(ctx, postalCode); err == nil && found {
			return centroid.Lat, centroid.Lon, centroid.OK, nil
		}
	}

	result, err := r.postalBreaker.Execute(func() (interface{}, error) {
		lat, lon, ok, err := r.postal.Resolve(ctx, postalCode)
		if err != nil {
			return nil, err
		}
		return Centroid{Lat: lat, Lon: lon, OK: ok}, nil
	})
	if err != nil {
		r.logger.WithError(err).WithField("postal_code", postalCode).Warn("Postal lookup failed")
		return 0, 0, false, nil
	}

	centroid := result.(Centroid)

	if r.cache != nil {
		if cacheErr := r.cache.SetCentroid(ctx, postalCode, centroid); cacheErr != nil {
			r.logger.WithError(cacheErr).Warn("Failed to cache postal centroid")
		}
	}

	return centroid.Lat, centroid.Lon, centroid.OK, nil
}

// BreakerStates returns the current state of the circuit breakers, for the
// health endpoint.
func (r *ResilientClient) BreakerStates() map[string]string {
	return map[string]string{
		"registry": r.registryBreaker.State().String(),
		"postal":   r.postalBreaker.State().String(),
	}
}

var (
	_ domain.TrialRegistry  = (*ResilientClient)(nil)
	_ domain.PostalResolver = (*ResilientClient)(nil)
)
