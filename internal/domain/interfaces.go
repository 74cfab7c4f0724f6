package domain

import "context"

// TrialRegistry searches an external trial registry for recruiting studies.
type TrialRegistry interface {
	// Search issues a filtered search and returns normalized trial records.
	// Transport or HTTP failures are reported as ErrRegistryUnavailable.
	Search(ctx context.Context, condition string) ([]TrialRecord, error)
}

// EligibilityOracle is the LLM collaborator the workflow consults.
type EligibilityOracle interface {
	// Evaluate judges trial criteria against a flattened patient profile.
	// Criteria below the minimum length never reach the backing service.
	Evaluate(ctx context.Context, criteria, profileText string) (*EligibilityVerdict, error)

	// Landscape synthesizes a treatment-landscape narrative for the profile.
	Landscape(ctx context.Context, profileText string) (string, error)

	// Compare produces a comparison narrative over the saved trials.
	Compare(ctx context.Context, profileText string, entries []ShortlistEntry) (string, error)

	// ExtractProfile maps free text onto the fixed profile field schema.
	// Non-parseable output is reported as ErrMalformedExtraction.
	ExtractProfile(ctx context.Context, freeText string) (*PatientProfile, error)
}

// PostalResolver resolves a postal code to a geographic centroid.
type PostalResolver interface {
	// Resolve returns the centroid for a postal code. ok is false when the
	// code does not resolve; that is not an error.
	Resolve(ctx context.Context, postalCode string) (lat, lon float64, ok bool, err error)
}

// ReportBuilder assembles the export document.
type ReportBuilder interface {
	// Build renders the saved set plus optional narrative sections into a
	// fixed-layout document. Empty sections are omitted, not left blank.
	Build(entries []ShortlistEntry, profileText, landscape, comparison string) ([]byte, error)
}
