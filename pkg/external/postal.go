package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/c-answer-server/internal/domain"
)

// PostalClient resolves postal codes to geographic centroids via the
// Zippopotam.us API. Lookups are memoized in an in-process LRU cache since
// centroids never change within a process lifetime.
type PostalClient struct {
	baseURL    string
	country    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	cache      *lru.Cache
}

// PostalConfig represents configuration for the postal resolver
type PostalConfig struct {
	BaseURL   string
	Country   string // ISO country code; distance ranking is restricted to one country
	Timeout   time.Duration
	RateLimit int // requests per second
	CacheSize int
}

// Centroid is a postal-code centroid. ok=false entries are cached too, so an
// unresolvable code costs one upstream call at most.
type Centroid struct {
	Lat float64
	Lon float64
	OK  bool
}

// NewPostalClient creates a new postal centroid resolver
func NewPostalClient(config PostalConfig) (*PostalClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.zippopotam.us"
	}
	if config.Country == "" {
		config.Country = "us"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.CacheSize == 0 {
		config.CacheSize = 2048
	}

	cache, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create centroid cache: %w", err)
	}

	return &PostalClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		country: strings.ToLower(config.Country),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 2),
		cache:     cache,
	}, nil
}

// postalResponse represents the Zippopotam.us JSON response
type postalResponse struct {
	Places []struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"places"`
}

// Resolve returns the centroid for a postal code. ok is false when the code
// does not resolve (upstream 404); that is not an error.
func (p *PostalClient) Resolve(ctx context.Context, postalCode string) (float64, float64, bool, error) {
	postalCode = normalizePostal(postalCode)
	if postalCode == "" {
		return 0, 0, false, nil
	}

	if cached, found := p.cache.Get(postalCode); found {
		c := cached.(Centroid)
		return c.Lat, c.Lon, c.OK, nil
	}

	if err := p.rateLimit.Wait(ctx); err != nil {
		return 0, 0, false, err
	}

	fullURL := fmt.Sprintf("%s/%s/%s", p.baseURL, p.country, postalCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to create postal request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, false, fmt.Errorf("postal lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		p.cache.Add(postalCode, Centroid{OK: false})
		return 0, 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, false, fmt.Errorf("postal lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to read postal response: %w", err)
	}

	var parsed postalResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0, false, fmt.Errorf("failed to parse postal response: %w", err)
	}
	if len(parsed.Places) == 0 {
		p.cache.Add(postalCode, Centroid{OK: false})
		return 0, 0, false, nil
	}

	lat, latErr := strconv.ParseFloat(parsed.Places[0].Latitude, 64)
	lon, lonErr := strconv.ParseFloat(parsed.Places[0].Longitude, 64)
	if latErr != nil || lonErr != nil {
		p.cache.Add(postalCode, Centroid{OK: false})
		return 0, 0, false, nil
	}

	p.cache.Add(postalCode, Centroid{Lat: lat, Lon: lon, OK: true})
	return lat, lon, true, nil
}

// normalizePostal reduces a postal code to its 5-digit ZIP form.
func normalizePostal(postalCode string) string {
	postalCode = strings.TrimSpace(postalCode)
	if idx := strings.Index(postalCode, "-"); idx > 0 {
		postalCode = postalCode[:idx]
	}
	if len(postalCode) != 5 {
		return ""
	}
	for _, r := range postalCode {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return postalCode
}

// earthRadiusMiles is the mean Earth radius used for great-circle distances.
const earthRadiusMiles = 3958.8

// HaversineMiles computes the great-circle distance in miles between two
// coordinate pairs.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

// Ensure the client satisfies the workflow port.
var _ domain.PostalResolver = (*PostalClient)(nil)
