package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Core Enums and Types

// VerdictStatus represents the eligibility classification for a trial.
type VerdictStatus string

const (
	VerdictMatch         VerdictStatus = "MATCH"
	VerdictNoMatch       VerdictStatus = "NO_MATCH"
	VerdictUncertain     VerdictStatus = "UNCERTAIN"
	VerdictNotApplicable VerdictStatus = "NOT_APPLICABLE"
	VerdictError         VerdictStatus = "ERROR"
)

// CardState represents the analysis state of a trial card.
type CardState string

const (
	CardUnanalyzed CardState = "UNANALYZED"
	CardAnalyzing  CardState = "ANALYZING"
	CardMatched    CardState = "MATCHED"
	CardNotMatched CardState = "NOT_MATCHED"
	CardUncertain  CardState = "UNCERTAIN"
	CardErrored    CardState = "ERRORED"
)

// CardStateForVerdict maps a verdict status to its terminal card state.
func CardStateForVerdict(status VerdictStatus) CardState {
	switch status {
	case VerdictMatch:
		return CardMatched
	case VerdictNoMatch:
		return CardNotMatched
	case VerdictUncertain, VerdictNotApplicable:
		return CardUncertain
	default:
		return CardErrored
	}
}

// Sex represents patient sex as reported on the intake form.
type Sex string

const (
	SexUnknown Sex = "UNKNOWN"
	SexMale    Sex = "MALE"
	SexFemale  Sex = "FEMALE"
)

// ECOGStatus represents the ECOG performance status scale (0-4).
// ECOGUnknown indicates the patient did not report a status.
type ECOGStatus int

const (
	ECOGUnknown ECOGStatus = -1
	ECOG0       ECOGStatus = 0
	ECOG1       ECOGStatus = 1
	ECOG2       ECOGStatus = 2
	ECOG3       ECOGStatus = 3
	ECOG4       ECOGStatus = 4
)

// MSIStatus represents microsatellite instability status.
type MSIStatus string

const (
	MSIUnknown MSIStatus = "UNKNOWN"
	MSIStable  MSIStatus = "STABLE"
	MSIHigh    MSIStatus = "HIGH"
)

// PriorLines represents prior lines of systemic therapy.
type PriorLines string

const (
	PriorLinesUnknown   PriorLines = "UNKNOWN"
	PriorLinesNone      PriorLines = "0"
	PriorLinesOne       PriorLines = "1"
	PriorLinesTwo       PriorLines = "2"
	PriorLinesThreePlus PriorLines = "3+"
)

// TriState represents an optional boolean biomarker flag.
type TriState string

const (
	TriStateUnknown TriState = "UNKNOWN"
	TriStateYes     TriState = "YES"
	TriStateNo      TriState = "NO"
)

// Registry Data Models

// SiteLocation is a single study site extracted from the registry record.
type SiteLocation struct {
	Facility   string `json:"facility,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// DistanceAnnotation is derived per trial when the patient supplied a postal
// code and at least one site resolved to a finite distance. A nil annotation
// on a TrialRecord is the "infinite distance" sentinel.
type DistanceAnnotation struct {
	NearestFacility string `json:"nearest_facility,omitempty"`
	NearestCity     string `json:"nearest_city,omitempty"`
	NearestPostal   string `json:"nearest_postal"`
	Miles           int    `json:"miles"`
	MapsURL         string `json:"maps_url,omitempty"`
}

// TrialRecord is a normalized registry study. Immutable once fetched; owned by
// the session for the lifetime of one search.
type TrialRecord struct {
	NCTID               string              `json:"nct_id"`
	Title               string              `json:"title"`
	Summary             string              `json:"summary"`
	EligibilityCriteria string              `json:"eligibility_criteria"`
	Sites               []SiteLocation      `json:"sites,omitempty"`
	Distance            *DistanceAnnotation `json:"distance,omitempty"`
}

// RegistryURL returns the public study record URL for the trial.
func (t *TrialRecord) RegistryURL() string {
	return fmt.Sprintf("https://clinicaltrials.gov/study/%s", t.NCTID)
}

// Patient Profile

// PatientProfile is the intake form snapshot. Constructed fresh on each
// submission and replaced wholesale; never partially updated.
type PatientProfile struct {
	Diagnosis    string     `json:"diagnosis"`
	Metastasis   string     `json:"metastasis,omitempty"`
	Age          int        `json:"age,omitempty"` // 0 means unknown
	Sex          Sex        `json:"sex"`
	PostalCode   string     `json:"postal_code,omitempty"`
	ECOG         ECOGStatus `json:"ecog"`
	PriorLines   PriorLines `json:"prior_lines"`
	MSI          MSIStatus  `json:"msi"`
	KRASWildType TriState   `json:"kras_wild_type"`
}

// SearchTerm builds the registry condition query from the profile.
func (p *PatientProfile) SearchTerm() string {
	term := strings.TrimSpace(p.Diagnosis)
	if m := strings.TrimSpace(p.Metastasis); m != "" {
		term = term + " " + m
	}
	return term
}

// Flatten serializes the profile to the text block consumed by the oracle.
func (p *PatientProfile) Flatten() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis: %s", strings.TrimSpace(p.Diagnosis))
	if m := strings.TrimSpace(p.Metastasis); m != "" {
		fmt.Fprintf(&b, "\nMetastasis: %s", m)
	}
	if p.Age > 0 {
		fmt.Fprintf(&b, "\nAge: %d", p.Age)
	}
	switch p.Sex {
	case SexMale:
		b.WriteString("\nSex: Male")
	case SexFemale:
		b.WriteString("\nSex: Female")
	}
	if p.ECOG != ECOGUnknown {
		fmt.Fprintf(&b, "\nECOG Performance Status: %d", int(p.ECOG))
	}
	if p.PriorLines != PriorLinesUnknown && p.PriorLines != "" {
		fmt.Fprintf(&b, "\nPrior Lines of Therapy: %s", p.PriorLines)
	}
	switch p.MSI {
	case MSIStable:
		b.WriteString("\nMicrosatellite Status: MSI-Stable")
	case MSIHigh:
		b.WriteString("\nMicrosatellite Status: MSI-High")
	}
	switch p.KRASWildType {
	case TriStateYes:
		b.WriteString("\nKRAS: Wild-type")
	case TriStateNo:
		b.WriteString("\nKRAS: Mutated")
	}
	return b.String()
}

// Fingerprint returns a stable hash of the profile snapshot. Verdicts are
// keyed by (trial, fingerprint); a changed profile starts a new epoch.
func (p *PatientProfile) Fingerprint() string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s|%d|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(p.Diagnosis)),
		strings.ToLower(strings.TrimSpace(p.Metastasis)),
		p.Age, p.Sex, p.PostalCode, int(p.ECOG), p.PriorLines, p.MSI, p.KRASWildType)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}

// Verdicts and Shortlist

// EligibilityVerdict is the oracle's classification for one trial against one
// profile snapshot. Memoized per session epoch.
type EligibilityVerdict struct {
	NCTID       string        `json:"nct_id"`
	Status      VerdictStatus `json:"status"`
	Rationale   string        `json:"rationale"`
	Raw         string        `json:"raw,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// ShortlistEntry is a denormalized snapshot of a saved trial. It survives new
// searches until explicitly removed, independent of the current result set.
type ShortlistEntry struct {
	NCTID            string    `json:"nct_id"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	VerdictStatus    string    `json:"verdict_status"`
	VerdictRationale string    `json:"verdict_rationale,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

// NotAnalyzed is the verdict snapshot recorded when a trial is saved before
// any analysis ran.
const NotAnalyzed = "Not Analyzed"

// RankedTrials is the output of the geo-distance ranker: trials with a finite
// distance sorted ascending, then trials with no resolvable distance in
// registry order. Unranked holds the full list when no postal code was given.
type RankedTrials struct {
	Near     []TrialRecord `json:"near,omitempty"`
	Other    []TrialRecord `json:"other,omitempty"`
	Unranked []TrialRecord `json:"unranked,omitempty"`
}

// All returns every trial in display order.
func (r *RankedTrials) All() []TrialRecord {
	if len(r.Unranked) > 0 {
		return r.Unranked
	}
	out := make([]TrialRecord, 0, len(r.Near)+len(r.Other))
	out = append(out, r.Near...)
	out = append(out, r.Other...)
	return out
}

// Find returns the trial with the given NCT ID from the current result set.
func (r *RankedTrials) Find(nctID string) (*TrialRecord, bool) {
	for i := range r.Unranked {
		if r.Unranked[i].NCTID == nctID {
			return &r.Unranked[i], true
		}
	}
	for i := range r.Near {
		if r.Near[i].NCTID == nctID {
			return &r.Near[i], true
		}
	}
	for i := range r.Other {
		if r.Other[i].NCTID == nctID {
			return &r.Other[i], true
		}
	}
	return nil, false
}
