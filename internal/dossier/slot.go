package dossier

import (
	"errors"
	"fmt"

	"dossierline/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid document transition")

// Submit appends ref to the slot history. Only a never-submitted slot moves to
// review; a slot already reviewed keeps its verdict until it is reviewed again.
func Submit(slot *domain.DocumentSlot, ref string) {
	slot.Files = append(slot.Files, ref)
	if slot.Status == domain.DocumentNotSubmitted || slot.Status == "" {
		slot.Status = domain.DocumentUnderReview
	}
}

// Review records a reviewer verdict.
func Review(slot *domain.DocumentSlot, verdict domain.DocumentStatus, comment string) error {
	if verdict != domain.DocumentCompliant && verdict != domain.DocumentNonCompliant {
		return fmt.Errorf("%w: verdict must be %s or %s, got %q", ErrInvalidTransition, domain.DocumentCompliant, domain.DocumentNonCompliant, verdict)
	}
	if slot.Status == domain.DocumentNotSubmitted || slot.Status == "" {
		return fmt.Errorf("%w: %s has not been submitted", ErrInvalidTransition, slot.Key)
	}
	slot.Status = verdict
	slot.Comment = comment
	return nil
}

// Clear empties the slot and returns the references it held so the caller can
// delete the stored content.
func Clear(slot *domain.DocumentSlot) []string {
	removed := slot.Files
	slot.Files = []string{}
	slot.Status = domain.DocumentNotSubmitted
	slot.Comment = ""
	return removed
}
