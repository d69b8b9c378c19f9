package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"dossierline/internal/domain"
)

// fold lowercases, strips accents and collapses separators so that
// "Signée", "signee" and "SIGNEE " compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	out = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

var conventionValues = map[string]domain.ConventionStatus{
	"not started":           domain.ConventionNotStarted,
	"prochainement":         domain.ConventionNotStarted,
	"a venir":               domain.ConventionNotStarted,
	"non signee":            domain.ConventionNotStarted,
	"signing":               domain.ConventionSigning,
	"en cours de signature": domain.ConventionSigning,
	"en cours":              domain.ConventionSigning,
	"envoyee":               domain.ConventionSigning,
	"a signer":              domain.ConventionSigning,
	"signed":                domain.ConventionSigned,
	"signee":                domain.ConventionSigned,
	"signe":                 domain.ConventionSigned,
}

var testFrValues = map[string]domain.TestFrStatus{
	"not started":   domain.TestFrNotStarted,
	"prochainement": domain.TestFrNotStarted,
	"a venir":       domain.TestFrNotStarted,
	"in progress":   domain.TestFrInProgress,
	"en cours":      domain.TestFrInProgress,
	"validated":     domain.TestFrValidated,
	"valide":        domain.TestFrValidated,
	"reussi":        domain.TestFrValidated,
	"reminded":      domain.TestFrReminded,
	"relance":       domain.TestFrReminded,
}

var fundingValues = map[string]domain.FundingStatus{
	"not started":            domain.FundingNotStarted,
	"prochainement":          domain.FundingNotStarted,
	"a venir":                domain.FundingNotStarted,
	"pending validation":     domain.FundingPendingValidation,
	"en cours de validation": domain.FundingPendingValidation,
	"en cours":               domain.FundingPendingValidation,
	"validated":              domain.FundingValidated,
	"valide":                 domain.FundingValidated,
	"accorde":                domain.FundingValidated,
}

var qualificationValues = map[string]domain.QualificationStatus{
	"not started":    domain.QualificationNotStarted,
	"prochainement":  domain.QualificationNotStarted,
	"in progress":    domain.QualificationInProgress,
	"en cours":       domain.QualificationInProgress,
	"validated":      domain.QualificationValidated,
	"valide":         domain.QualificationValidated,
	"not applicable": domain.QualificationNotApplicable,
	"non concerne":   domain.QualificationNotApplicable,
	"n/a":            domain.QualificationNotApplicable,
}

var clearanceValues = map[string]domain.SecurityClearanceStatus{
	"unknown":          domain.ClearanceUnknown,
	"inconnu":          domain.ClearanceUnknown,
	"pending":          domain.ClearancePending,
	"en cours":         domain.ClearancePending,
	"en attente":       domain.ClearancePending,
	"demande":          domain.ClearancePending,
	"demande en cours": domain.ClearancePending,
	"valid":            domain.ClearanceValid,
	"valide":           domain.ClearanceValid,
	"ok":               domain.ClearanceValid,
	"accorde":          domain.ClearanceValid,
	"autorise":         domain.ClearanceValid,
	"delivre":          domain.ClearanceValid,
	"refused":          domain.ClearanceRefused,
	"refuse":           domain.ClearanceRefused,
	"rejete":           domain.ClearanceRefused,
	"expired":          domain.ClearanceExpired,
	"expire":           domain.ClearanceExpired,
	"perime":           domain.ClearanceExpired,
}

var accommodationValues = map[string]domain.AccommodationStatus{
	"unknown":        domain.AccommodationUnknown,
	"inconnu":        domain.AccommodationUnknown,
	"pending":        domain.AccommodationPending,
	"en cours":       domain.AccommodationPending,
	"en attente":     domain.AccommodationPending,
	"demande":        domain.AccommodationPending,
	"booked":         domain.AccommodationBooked,
	"reserve":        domain.AccommodationBooked,
	"reservee":       domain.AccommodationBooked,
	"confirme":       domain.AccommodationBooked,
	"not needed":     domain.AccommodationNotNeeded,
	"non necessaire": domain.AccommodationNotNeeded,
	"pas besoin":     domain.AccommodationNotNeeded,
	"aucun":          domain.AccommodationNotNeeded,
	"not applicable": domain.AccommodationNotApplicable,
	"non concerne":   domain.AccommodationNotApplicable,
	"n/a":            domain.AccommodationNotApplicable,
}

var documentValues = map[string]domain.DocumentStatus{
	"not submitted":            domain.DocumentNotSubmitted,
	"non depose":               domain.DocumentNotSubmitted,
	"non fourni":               domain.DocumentNotSubmitted,
	"manquant":                 domain.DocumentNotSubmitted,
	"under review":             domain.DocumentUnderReview,
	"en attente":               domain.DocumentUnderReview,
	"a verifier":               domain.DocumentUnderReview,
	"en cours de verification": domain.DocumentUnderReview,
	"depose":                   domain.DocumentUnderReview,
	"recu":                     domain.DocumentUnderReview,
	"compliant":                domain.DocumentCompliant,
	"conforme":                 domain.DocumentCompliant,
	"valide":                   domain.DocumentCompliant,
	"non compliant":            domain.DocumentNonCompliant,
	"non conforme":             domain.DocumentNonCompliant,
	"refuse":                   domain.DocumentNonCompliant,
	"rejete":                   domain.DocumentNonCompliant,
}

func conventionStatus(v string) domain.ConventionStatus {
	if s, ok := conventionValues[fold(v)]; ok {
		return s
	}
	return domain.ConventionStatuses[0]
}

func testFrStatus(v string) domain.TestFrStatus {
	if s, ok := testFrValues[fold(v)]; ok {
		return s
	}
	return domain.TestFrStatuses[0]
}

func fundingStatus(v string) domain.FundingStatus {
	if s, ok := fundingValues[fold(v)]; ok {
		return s
	}
	return domain.FundingStatuses[0]
}

// qualificationStatus defaults a missing value by program applicability.
func qualificationStatus(v string, applicable bool) domain.QualificationStatus {
	if s, ok := qualificationValues[fold(v)]; ok {
		return s
	}
	if strings.TrimSpace(v) == "" && !applicable {
		return domain.QualificationNotApplicable
	}
	return domain.QualificationStatuses[0]
}

// clearanceStatus keeps unrecognized values as written.
func clearanceStatus(v string) domain.SecurityClearanceStatus {
	if s, ok := clearanceValues[fold(v)]; ok {
		return s
	}
	if v = strings.TrimSpace(v); v != "" {
		return domain.SecurityClearanceStatus(v)
	}
	return domain.ClearanceUnknown
}

// accommodationStatus keeps unrecognized values as written and defaults a
// missing value by program applicability.
func accommodationStatus(v string, applicable bool) domain.AccommodationStatus {
	if s, ok := accommodationValues[fold(v)]; ok {
		return s
	}
	if v = strings.TrimSpace(v); v != "" {
		return domain.AccommodationStatus(v)
	}
	if !applicable {
		return domain.AccommodationNotApplicable
	}
	return domain.AccommodationUnknown
}

// documentStatus never leaves a slot holding files in the initial state.
func documentStatus(v string, hasFiles bool) domain.DocumentStatus {
	s, ok := documentValues[fold(v)]
	if !ok {
		s = domain.DocumentStatuses[0]
	}
	if s == domain.DocumentNotSubmitted && hasFiles {
		return domain.DocumentUnderReview
	}
	return s
}

var truthy = map[string]bool{
	"true": true, "1": true, "oui": true, "yes": true, "y": true, "o": true, "x": true,
}
