package dossier

import (
	"dossierline/internal/catalog"
	"dossierline/internal/domain"
)

// SessionReport is recomputed on every read.
type SessionReport struct {
	Total           int  `json:"total"`
	ConformCount    int  `json:"conform_count"`
	NonConformCount int  `json:"non_conform_count"`
	SessionConform  bool `json:"session_conform"`
}

// IsConform combines the administrative statuses with the cached dossier status.
func IsConform(t domain.Trainee, pt catalog.ProgramType) bool {
	if t.ConventionStatus != domain.ConventionSigned {
		return false
	}
	if t.TestFrStatus != domain.TestFrValidated {
		return false
	}
	if t.DossierStatus != domain.DossierComplete {
		return false
	}
	if t.FundingStatus != domain.FundingValidated {
		return false
	}
	if pt == catalog.QualificationProgram && t.QualificationStatus != domain.QualificationValidated {
		return false
	}
	return true
}

// EvaluateSession rolls trainee conformity up to the session. A session
// without trainees is never conform.
func EvaluateSession(s domain.Session) SessionReport {
	r := SessionReport{Total: len(s.Trainees)}
	for _, t := range s.Trainees {
		if IsConform(t, s.ProgramType) {
			r.ConformCount++
		}
	}
	r.NonConformCount = r.Total - r.ConformCount
	r.SessionConform = r.Total > 0 && r.ConformCount == r.Total
	return r
}
