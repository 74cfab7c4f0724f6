package domain

import (
	"regexp"
	"strings"
)

var postalCodePattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// ParseSex maps a form value onto the Sex enum.
func ParseSex(s string) Sex {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return SexMale
	case "F", "FEMALE":
		return SexFemale
	default:
		return SexUnknown
	}
}

// ParseECOG maps a form value onto the ECOG scale. Out-of-range values are
// treated as unknown.
func ParseECOG(v int, known bool) ECOGStatus {
	if !known || v < 0 || v > 4 {
		return ECOGUnknown
	}
	return ECOGStatus(v)
}

// ParseMSI maps a form value onto the MSI enum.
func ParseMSI(s string) MSIStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STABLE", "MSS", "MSI-STABLE":
		return MSIStable
	case "HIGH", "MSI-H", "MSI-HIGH":
		return MSIHigh
	default:
		return MSIUnknown
	}
}

// ParsePriorLines maps a form value onto the PriorLines enum.
func ParsePriorLines(s string) PriorLines {
	switch strings.TrimSpace(s) {
	case "0":
		return PriorLinesNone
	case "1":
		return PriorLinesOne
	case "2":
		return PriorLinesTwo
	case "3", "3+", "4", "5":
		return PriorLinesThreePlus
	default:
		return PriorLinesUnknown
	}
}

// ParseTriState maps a form value onto the TriState enum.
func ParseTriState(s string) TriState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "TRUE", "Y", "1":
		return TriStateYes
	case "NO", "FALSE", "N", "0":
		return TriStateNo
	default:
		return TriStateUnknown
	}
}

// Normalize fills enum zero values and trims free-text fields so that two
// equivalent submissions produce the same fingerprint.
func (p *PatientProfile) Normalize() {
	p.Diagnosis = strings.TrimSpace(p.Diagnosis)
	p.Metastasis = strings.TrimSpace(p.Metastasis)
	p.PostalCode = strings.TrimSpace(p.PostalCode)
	if p.Sex == "" {
		p.Sex = SexUnknown
	}
	if p.MSI == "" {
		p.MSI = MSIUnknown
	}
	if p.PriorLines == "" {
		p.PriorLines = PriorLinesUnknown
	}
	if p.KRASWildType == "" {
		p.KRASWildType = TriStateUnknown
	}
	if p.Age < 0 {
		p.Age = 0
	}
	if p.ECOG < ECOGUnknown || p.ECOG > ECOG4 {
		p.ECOG = ECOGUnknown
	}
}

// Validate checks the profile for a searchable submission. A diagnosis is
// required; the postal code, when present, must look like a US ZIP.
func (p *PatientProfile) Validate() []error {
	var errs []error
	if strings.TrimSpace(p.Diagnosis) == "" {
		errs = append(errs, NewValidationError("diagnosis", "diagnosis is required", p.Diagnosis))
	}
	if p.Age < 0 || p.Age > 120 {
		errs = append(errs, NewValidationError("age", "age must be between 0 and 120", p.Age))
	}
	if p.PostalCode != "" && !postalCodePattern.MatchString(p.PostalCode) {
		errs = append(errs, NewValidationError("postal_code", "postal code must be a 5-digit US ZIP", p.PostalCode))
	}
	return errs
}
