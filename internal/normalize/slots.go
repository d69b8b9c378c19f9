package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
)

// legacyDocumentKeys maps slot keys used before the catalog was renamed.
var legacyDocumentKeys = map[string]string{
	"piece_identite":     catalog.KeyIdentityDocument,
	"carte_identite":     catalog.KeyIdentityDocument,
	"photo":              catalog.KeyIDPhoto,
	"photo_identite":     catalog.KeyIDPhoto,
	"carte_vitale":       catalog.KeyHealthInsurance,
	"autorisation_cnaps": catalog.KeySecurityClearance,
	"autorisation":       catalog.KeySecurityClearance,
	"permis":             catalog.KeyDrivingLicense,
	"permis_conduire":    catalog.KeyDrivingLicense,
	"certificat_medical": catalog.KeyMedicalCertificate,
	"assurance_rc":       catalog.KeyLiabilityInsurance,
	"assurance":          catalog.KeyLiabilityInsurance,
}

func canonicalKey(k string) string {
	if alias, ok := legacyDocumentKeys[k]; ok {
		return alias
	}
	return k
}

// rawSlots reads the documents container in either shape: the canonical list
// of slot objects or the legacy object keyed by document key.
func (n Normalizer) rawSlots(v gjson.Result) []domain.DocumentSlot {
	var out []domain.DocumentSlot
	seen := map[string]int{}
	viaAlias := map[string]bool{}
	add := func(key string, item gjson.Result) {
		slot := n.rawSlot(key, item)
		if i, dup := seen[slot.Key]; dup {
			// a canonical key beats its legacy alias
			if slot.Key == key && viaAlias[slot.Key] {
				out[i] = slot
				viaAlias[slot.Key] = false
			}
			return
		}
		seen[slot.Key] = len(out)
		viaAlias[slot.Key] = slot.Key != key
		out = append(out, slot)
	}
	for _, container := range []gjson.Result{v.Get("documents"), v.Get("pieces")} {
		switch {
		case container.IsArray():
			for _, item := range container.Array() {
				if key := str(item, "key", "cle", "type"); key != "" {
					add(key, item)
				}
			}
		case container.IsObject():
			container.ForEach(func(k, item gjson.Result) bool {
				add(k.String(), item)
				return true
			})
		}
	}
	return out
}

func (n Normalizer) rawSlot(key string, item gjson.Result) domain.DocumentSlot {
	slot := domain.DocumentSlot{Key: canonicalKey(key), Files: []string{}}
	if item.Type == gjson.String {
		// legacy shape: key -> single file path
		if strings.TrimSpace(item.Str) != "" {
			slot.Files = append(slot.Files, n.ref(item.Str))
		}
		slot.Status = documentStatus("", len(slot.Files) > 0)
		return slot
	}
	for _, f := range item.Get("files").Array() {
		if s := scalar(f); strings.TrimSpace(s) != "" {
			slot.Files = append(slot.Files, n.ref(s))
		}
	}
	if len(slot.Files) == 0 {
		if single := str(item, "file", "fichier", "path", "url"); strings.TrimSpace(single) != "" {
			slot.Files = append(slot.Files, n.ref(single))
		}
	}
	slot.Status = documentStatus(str(item, "status", "statut"), len(slot.Files) > 0)
	slot.Comment = str(item, "comment", "commentaire")
	return slot
}

// ReconcileSlots returns exactly the catalog's slots for pt, in catalog order,
// carrying over history, status and comment from existing slots with the same
// key. Slots whose key is no longer required are dropped.
func ReconcileSlots(existing []domain.DocumentSlot, pt catalog.ProgramType) []domain.DocumentSlot {
	byKey := make(map[string]domain.DocumentSlot, len(existing))
	for _, s := range existing {
		if _, dup := byKey[s.Key]; !dup {
			byKey[s.Key] = s
		}
	}
	defs := catalog.RequiredDocuments(pt)
	out := make([]domain.DocumentSlot, 0, len(defs))
	for _, def := range defs {
		slot := domain.DocumentSlot{
			Key:          def.Key,
			Label:        def.Label,
			ContentClass: def.ContentClass,
			Status:       domain.DocumentNotSubmitted,
			Files:        []string{},
		}
		if prev, ok := byKey[def.Key]; ok {
			slot.Files = append(slot.Files, prev.Files...)
			slot.Comment = prev.Comment
			slot.Status = prev.Status
			if !slot.Status.Valid() {
				slot.Status = documentStatus(string(prev.Status), len(slot.Files) > 0)
			}
			if slot.Status == domain.DocumentNotSubmitted && len(slot.Files) > 0 {
				slot.Status = domain.DocumentUnderReview
			}
		}
		out = append(out, slot)
	}
	return out
}
