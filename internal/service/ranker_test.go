package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-answer-server/internal/domain"
)

// fakeResolver serves fixed centroids and counts lookups.
type fakeResolver struct {
	centroids map[string][2]float64
	calls     int
	err       error
}

func (f *fakeResolver) Resolve(_ context.Context, postalCode string) (float64, float64, bool, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, false, f.err
	}
	c, ok := f.centroids[postalCode]
	if !ok {
		return 0, 0, false, nil
	}
	return c[0], c[1], true, nil
}

// Real centroids for the ZIPs used below.
var testCentroids = map[string][2]float64{
	"90210": {34.0901, -118.4065}, // Beverly Hills
	"10001": {40.7484, -73.9967},  // Manhattan
	"02115": {42.3389, -71.1003},  // Boston
	"60611": {41.8923, -87.6173},  // Chicago
}

func usSite(facility, city, zip string) domain.SiteLocation {
	return domain.SiteLocation{
		Facility:   facility,
		City:       city,
		PostalCode: zip,
		Country:    "United States",
	}
}

func TestAnnotateCrossCountryDistance(t *testing.T) {
	resolver := &fakeResolver{centroids: testCentroids}
	ranker := NewGeoRanker(resolver, nil)

	trials := []domain.TrialRecord{
		{NCTID: "NCT001", Sites: []domain.SiteLocation{usSite("MSKCC", "New York", "10001")}},
	}

	annotated := ranker.Annotate(context.Background(), trials, "90210")

	require.NotNil(t, annotated[0].Distance)
	// Beverly Hills to Manhattan is roughly 2,450 miles great-circle.
	assert.InDelta(t, 2451, annotated[0].Distance.Miles, 10)
	assert.Equal(t, "MSKCC", annotated[0].Distance.NearestFacility)
	assert.Contains(t, annotated[0].Distance.MapsURL, "origin=90210")
	assert.Contains(t, annotated[0].Distance.MapsURL, "destination=10001")
}

func TestAnnotatePicksNearestSite(t *testing.T) {
	resolver := &fakeResolver{centroids: testCentroids}
	ranker := NewGeoRanker(resolver, nil)

	trials := []domain.TrialRecord{
		{NCTID: "NCT001", Sites: []domain.SiteLocation{
			usSite("MSKCC", "New York", "10001"),
			usSite("Dana-Farber", "Boston", "02115"),
		}},
	}

	// Patient is in Manhattan; the New York site must win.
	annotated := ranker.Annotate(context.Background(), trials, "10001")

	require.NotNil(t, annotated[0].Distance)
	assert.Equal(t, "MSKCC", annotated[0].Distance.NearestFacility)
	assert.Equal(t, 0, annotated[0].Distance.Miles)
}

func TestAnnotateSkipsForeignAndUnresolvableSites(t *testing.T) {
	resolver := &fakeResolver{centroids: testCentroids}
	ranker := NewGeoRanker(resolver, nil)

	trials := []domain.TrialRecord{
		{NCTID: "NCT001", Sites: []domain.SiteLocation{
			{Facility: "Charité", City: "Berlin", PostalCode: "10117", Country: "Germany"},
			{Facility: "No ZIP", City: "Houston", Country: "United States"},
		}},
		{NCTID: "NCT002", Sites: []domain.SiteLocation{
			usSite("Unknown ZIP", "Nowhere", "00000"),
		}},
	}

	annotated := ranker.Annotate(context.Background(), trials, "90210")

	assert.Nil(t, annotated[0].Distance)
	assert.Nil(t, annotated[1].Distance)
}

func TestAnnotateWithoutPostalCodeIsIdentity(t *testing.T) {
	resolver := &fakeResolver{centroids: testCentroids}
	ranker := NewGeoRanker(resolver, nil)

	trials := []domain.TrialRecord{{NCTID: "NCT001"}}
	annotated := ranker.Annotate(context.Background(), trials, "")

	assert.Equal(t, trials, annotated)
	assert.Zero(t, resolver.calls, "no lookups without a patient postal code")
}

func TestAnnotateDegradesOnResolverFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("boom")}
	ranker := NewGeoRanker(resolver, nil)

	trials := []domain.TrialRecord{{NCTID: "NCT001", Sites: []domain.SiteLocation{usSite("X", "Y", "10001")}}}
	annotated := ranker.Annotate(context.Background(), trials, "90210")

	assert.Nil(t, annotated[0].Distance)
}

func TestRankPartitionAndOrder(t *testing.T) {
	ranker := NewGeoRanker(&fakeResolver{}, nil)

	trials := []domain.TrialRecord{
		{NCTID: "NCT-FAR", Distance: &domain.DistanceAnnotation{Miles: 2451}},
		{NCTID: "NCT-NONE1"},
		{NCTID: "NCT-NEAR", Distance: &domain.DistanceAnnotation{Miles: 12}},
		{NCTID: "NCT-NONE2"},
		{NCTID: "NCT-MID", Distance: &domain.DistanceAnnotation{Miles: 800}},
	}

	ranked := ranker.Rank(trials)

	require.Len(t, ranked.Near, 3)
	require.Len(t, ranked.Other, 2)

	// Near bucket sorted non-decreasing by distance.
	assert.Equal(t, "NCT-NEAR", ranked.Near[0].NCTID)
	assert.Equal(t, "NCT-MID", ranked.Near[1].NCTID)
	assert.Equal(t, "NCT-FAR", ranked.Near[2].NCTID)

	// Other bucket keeps registry order.
	assert.Equal(t, "NCT-NONE1", ranked.Other[0].NCTID)
	assert.Equal(t, "NCT-NONE2", ranked.Other[1].NCTID)
}

func TestRankStableForEqualDistances(t *testing.T) {
	ranker := NewGeoRanker(&fakeResolver{}, nil)

	trials := []domain.TrialRecord{
		{NCTID: "NCT-A", Distance: &domain.DistanceAnnotation{Miles: 10}},
		{NCTID: "NCT-B", Distance: &domain.DistanceAnnotation{Miles: 10}},
	}

	ranked := ranker.Rank(trials)
	assert.Equal(t, "NCT-A", ranked.Near[0].NCTID)
	assert.Equal(t, "NCT-B", ranked.Near[1].NCTID)
}
