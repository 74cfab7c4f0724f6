package service

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/domain"
	"github.com/c-answer-server/pkg/external"
)

// GeoRanker annotates trials with the distance to their nearest site and
// partitions results into near/other buckets.
type GeoRanker struct {
	postal domain.PostalResolver
	logger *logrus.Logger
}

// NewGeoRanker creates a new geo-distance ranker
func NewGeoRanker(postal domain.PostalResolver, logger *logrus.Logger) *GeoRanker {
	if logger == nil {
		logger = logrus.New()
	}
	return &GeoRanker{postal: postal, logger: logger}
}

// rankCountry restricts distance computation to sites in one country; postal
// centroid lookup only covers US ZIP codes.
const rankCountry = "united states"

// Annotate attaches a DistanceAnnotation to each trial with at least one
// resolvable US site, taking the minimum distance over all sites. The input
// order and length are preserved. With no patient postal code the trials are
// returned untouched.
func (g *GeoRanker) Annotate(ctx context.Context, trials []domain.TrialRecord, patientPostal string) []domain.TrialRecord {
	patientPostal = strings.TrimSpace(patientPostal)
	if patientPostal == "" || len(trials) == 0 {
		return trials
	}

	patLat, patLon, ok, err := g.postal.Resolve(ctx, patientPostal)
	if err != nil || !ok {
		if err != nil {
			g.logger.WithError(err).WithField("postal_code", patientPostal).Warn("Patient postal code lookup failed")
		}
		return trials
	}

	annotated := make([]domain.TrialRecord, len(trials))
	copy(annotated, trials)

	for i := range annotated {
		annotated[i].Distance = g.nearestSite(ctx, &annotated[i], patLat, patLon, patientPostal)
	}

	return annotated
}

// nearestSite computes the minimum site distance for one trial, or nil when
// no site resolves.
func (g *GeoRanker) nearestSite(ctx context.Context, trial *domain.TrialRecord, patLat, patLon float64, patientPostal string) *domain.DistanceAnnotation {
	var best *domain.DistanceAnnotation
	bestMiles := math.Inf(1)

	for _, site := range trial.Sites {
		if strings.ToLower(strings.TrimSpace(site.Country)) != rankCountry {
			continue
		}
		if site.PostalCode == "" {
			continue
		}

		lat, lon, ok, err := g.postal.Resolve(ctx, site.PostalCode)
		if err != nil || !ok {
			continue
		}

		miles := external.HaversineMiles(patLat, patLon, lat, lon)
		if miles < bestMiles {
			bestMiles = miles
			best = &domain.DistanceAnnotation{
				NearestFacility: site.Facility,
				NearestCity:     site.City,
				NearestPostal:   site.PostalCode,
				Miles:           int(math.Round(miles)),
				MapsURL:         directionsURL(patientPostal, site.PostalCode),
			}
		}
	}

	return best
}

// Rank partitions annotated trials: finite distances sorted ascending into
// the near bucket, unresolvable trials into the other bucket in registry
// order. The sort is stable so equal distances keep registry order.
func (g *GeoRanker) Rank(trials []domain.TrialRecord) domain.RankedTrials {
	var ranked domain.RankedTrials

	for _, t := range trials {
		if t.Distance != nil {
			ranked.Near = append(ranked.Near, t)
		} else {
			ranked.Other = append(ranked.Other, t)
		}
	}

	sort.SliceStable(ranked.Near, func(i, j int) bool {
		return ranked.Near[i].Distance.Miles < ranked.Near[j].Distance.Miles
	})

	return ranked
}

// directionsURL builds a navigable link from the patient location to a site.
func directionsURL(fromPostal, toPostal string) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&origin=%s&destination=%s",
		url.QueryEscape(fromPostal), url.QueryEscape(toPostal))
}
