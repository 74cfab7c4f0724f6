package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c-answer-server/internal/domain"
)

// RegistryClient handles interactions with the ClinicalTrials.gov v2 API
type RegistryClient struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// RegistryConfig represents configuration for the registry client
type RegistryConfig struct {
	BaseURL   string
	PageSize  int
	Timeout   time.Duration
	RateLimit int // requests per second
}

// registryStatusFilter is the fixed overall-status filter applied to every
// search. The workflow only surfaces actively recruiting studies.
const registryStatusFilter = "RECRUITING"

// NewRegistryClient creates a new ClinicalTrials.gov API client
func NewRegistryClient(config RegistryConfig) *RegistryClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://clinicaltrials.gov/api/v2"
	}
	if config.PageSize <= 0 || config.PageSize > 50 {
		config.PageSize = 50
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}

	return &RegistryClient{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		pageSize: config.PageSize,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// studiesResponse represents the JSON response from the v2 studies endpoint.
// Only the fields the workflow consumes are mapped; everything else in the
// study object is ignored.
type studiesResponse struct {
	Studies []studyRecord `json:"studies"`
}

type studyRecord struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
		} `json:"eligibilityModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Zip      string `json:"zip"`
				Country  string `json:"country"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

// Search queries the registry for recruiting studies matching the condition,
// sorted by last update descending, one fixed-size page. Any transport or
// non-2xx failure is reported as domain.ErrRegistryUnavailable so the caller
// can degrade to an empty result set.
func (r *RegistryClient) Search(ctx context.Context, condition string) ([]domain.TrialRecord, error) {
	if err := r.rateLimit.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"query.cond":           {condition},
		"filter.overallStatus": {registryStatusFilter},
		"pageSize":             {fmt.Sprintf("%d", r.pageSize)},
		"sort":                 {"LastUpdateSubmitDate:desc"},
	}

	fullURL := fmt.Sprintf("%s/studies?%s", r.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry returned status %d", domain.ErrRegistryUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrRegistryUnavailable, err)
	}

	var studies studiesResponse
	if err := json.Unmarshal(body, &studies); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", domain.ErrRegistryUnavailable, err)
	}

	return r.convertToTrials(studies.Studies), nil
}

// convertToTrials maps raw study objects into domain records, failing closed:
// entries without an NCT ID are skipped, and repeated NCT IDs keep only the
// first (most recently updated) occurrence.
func (r *RegistryClient) convertToTrials(studies []studyRecord) []domain.TrialRecord {
	trials := make([]domain.TrialRecord, 0, len(studies))
	seen := make(map[string]bool, len(studies))

	for _, study := range studies {
		ps := study.ProtocolSection
		nctID := strings.TrimSpace(ps.IdentificationModule.NCTID)
		if nctID == "" || seen[nctID] {
			continue
		}
		seen[nctID] = true

		trial := domain.TrialRecord{
			NCTID:               nctID,
			Title:               strings.TrimSpace(ps.IdentificationModule.BriefTitle),
			Summary:             strings.TrimSpace(ps.DescriptionModule.BriefSummary),
			EligibilityCriteria: strings.TrimSpace(ps.EligibilityModule.EligibilityCriteria),
		}
		if trial.Title == "" {
			trial.Title = "Untitled Study"
		}
		if trial.Summary == "" {
			trial.Summary = "No summary available"
		}

		for _, loc := range ps.ContactsLocationsModule.Locations {
			trial.Sites = append(trial.Sites, domain.SiteLocation{
				Facility:   strings.TrimSpace(loc.Facility),
				City:       strings.TrimSpace(loc.City),
				State:      strings.TrimSpace(loc.State),
				PostalCode: strings.TrimSpace(loc.Zip),
				Country:    strings.TrimSpace(loc.Country),
			})
		}

		trials = append(trials, trial)
	}

	return trials
}
