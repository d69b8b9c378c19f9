package dossier

import (
	"dossierline/internal/catalog"
	"dossierline/internal/domain"
)

// DocumentsComplete requires every catalog entry to be COMPLIANT, except the
// waivable entry when the trainee holds the waiver. A missing slot fails.
func DocumentsComplete(t domain.Trainee, pt catalog.ProgramType) bool {
	for _, def := range catalog.RequiredDocuments(pt) {
		if def.Key == catalog.WaivableKey && t.LicenseWaiver {
			continue
		}
		slot, ok := t.Slot(def.Key)
		if !ok || slot.Status != domain.DocumentCompliant {
			return false
		}
	}
	return true
}

// IsComplete is the single source of truth for a trainee's dossier status.
func IsComplete(t domain.Trainee, pt catalog.ProgramType) bool {
	return DocumentsComplete(t, pt) && ProfileComplete(t.Profile)
}

// Status maps IsComplete onto the stored token.
func Status(t domain.Trainee, pt catalog.ProgramType) domain.DossierStatus {
	if IsComplete(t, pt) {
		return domain.DossierComplete
	}
	return domain.DossierIncomplete
}

// Refresh recomputes the cached dossier status and reports whether it changed.
func Refresh(t *domain.Trainee, pt catalog.ProgramType) bool {
	next := Status(*t, pt)
	if t.DossierStatus == next {
		return false
	}
	t.DossierStatus = next
	return true
}
