// Package normalize turns any stored record shape, legacy or current, into the
// canonical domain model. It is the only place that knows about legacy shapes.
package normalize

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/fileref"
)

// Normalizer reads raw records. The zero value is ready to use; set Tokenizer
// to convert absolute legacy file paths under the storage root into references.
type Normalizer struct {
	Tokenizer *fileref.Tokenizer
}

// Normalize is Normalizer{}.Store.
func Normalize(raw []byte) (domain.Store, bool) {
	return Normalizer{}.Store(raw)
}

// Store decodes a whole persisted document. changed reports whether the
// canonical encoding differs structurally from raw. raw is never modified.
func (n Normalizer) Store(raw []byte) (domain.Store, bool) {
	store := domain.Store{SchemaVersion: domain.SchemaVersion, Sessions: []domain.Session{}}
	if gjson.ValidBytes(raw) {
		root := gjson.ParseBytes(raw)
		sessions := root.Get("sessions")
		if root.IsArray() {
			sessions = root
		}
		sessions.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				store.Sessions = append(store.Sessions, n.Session(v))
			}
			return true
		})
	}
	canonical, err := json.Marshal(store)
	if err != nil {
		return store, true
	}
	return store, !sameJSON(raw, canonical)
}

// Session converts one session record.
func (n Normalizer) Session(v gjson.Result) domain.Session {
	s := domain.Session{
		ID:          str(v, "id"),
		Name:        str(v, "name", "nom", "intitule"),
		ProgramType: programType(str(v, "program_type", "type_formation", "formation")),
		StartDate:   str(v, "start_date", "date_debut"),
		EndDate:     str(v, "end_date", "date_fin"),
		ExamDate:    str(v, "exam_date", "date_examen"),
		Archived:    boolean(v, "archived", "archive", "archivee"),
		CreatedAt:   str(v, "created_at", "date_creation"),
		Trainees:    []domain.Trainee{},
	}
	list := v.Get("trainees")
	if len(list.Array()) == 0 {
		list = v.Get("stagiaires")
	}
	for _, item := range list.Array() {
		if item.IsObject() {
			s.Trainees = append(s.Trainees, n.Trainee(item, s.ProgramType))
		}
	}
	return s
}

// Trainee converts one trainee record for a session of program pt. The legacy
// dossier flag is ignored; dossier status is always recomputed.
func (n Normalizer) Trainee(v gjson.Result, pt catalog.ProgramType) domain.Trainee {
	t := domain.Trainee{
		ID:                  str(v, "id"),
		LastName:            str(v, "last_name", "nom"),
		FirstName:           str(v, "first_name", "prenom"),
		Email:               str(v, "email", "courriel", "mail"),
		Phone:               str(v, "phone", "telephone", "tel"),
		Token:               str(v, "token", "jeton", "access_token"),
		ConventionStatus:    conventionStatus(str(v, "convention_status", "convention")),
		TestFrStatus:        testFrStatus(str(v, "test_fr_status", "test_francais")),
		FundingStatus:       fundingStatus(str(v, "funding_status", "financement")),
		QualificationStatus: qualificationStatus(str(v, "qualification_status", "vae"), pt == catalog.QualificationProgram),
		ClearanceStatus:     clearanceStatus(str(v, "security_clearance_status", "cnaps", "statut_cnaps")),
		AccommodationStatus: accommodationStatus(str(v, "accommodation_status", "hebergement"), pt == catalog.VehicleEscortProgram),
		LicenseWaiver:       boolean(v, "license_waiver", "dispense_permis"),
		Comment:             str(v, "comment", "commentaire"),
		Profile:             profile(v),
		Deliverables:        deliverables(v),
		CreatedAt:           str(v, "created_at", "date_creation"),
	}
	t.Documents = ReconcileSlots(n.rawSlots(v), pt)
	t.DossierStatus = dossier.Status(t, pt)
	return t
}

var profileAliases = []struct {
	field   string
	aliases []string
}{
	{dossier.FieldBirthDate, []string{"date_naissance"}},
	{dossier.FieldBirthCity, []string{"ville_naissance", "lieu_naissance"}},
	{dossier.FieldBirthCountry, []string{"pays_naissance"}},
	{dossier.FieldNationality, []string{"nationalite"}},
	{dossier.FieldAddress, []string{"adresse"}},
	{dossier.FieldPostalCode, []string{"code_postal", "cp"}},
	{dossier.FieldCity, []string{"ville"}},
	{dossier.FieldHealthInsuranceNumber, []string{"numero_secu", "num_secu", "securite_sociale", "social_security_number"}},
	{dossier.FieldPreNumber, []string{"numero_pre", "num_pre"}},
}

// profile reads the nested profile object first, then the legacy nested
// object, then flat legacy fields on the trainee record.
func profile(v gjson.Result) domain.Profile {
	sources := []gjson.Result{v.Get("profile"), v.Get("profil"), v}
	values := make(map[string]string, len(profileAliases))
	for _, pa := range profileAliases {
		keys := append([]string{pa.field}, pa.aliases...)
		var candidates []gjson.Result
		for _, src := range sources {
			if !src.IsObject() {
				continue
			}
			for _, k := range keys {
				candidates = append(candidates, src.Get(k))
			}
		}
		values[pa.field] = pick(candidates...)
	}
	return domain.Profile{
		BirthDate:             values[dossier.FieldBirthDate],
		BirthCity:             values[dossier.FieldBirthCity],
		BirthCountry:          values[dossier.FieldBirthCountry],
		Nationality:           values[dossier.FieldNationality],
		Address:               values[dossier.FieldAddress],
		PostalCode:            values[dossier.FieldPostalCode],
		City:                  values[dossier.FieldCity],
		HealthInsuranceNumber: values[dossier.FieldHealthInsuranceNumber],
		PreNumber:             values[dossier.FieldPreNumber],
	}
}

var deliverableAliases = map[string]string{
	"diplome":               domain.DeliverableDiploma,
	"attestation_formation": domain.DeliverableTrainingCertificate,
	"attestation_fin":       domain.DeliverableTrainingCertificate,
	"attestation_assiduite": domain.DeliverableAttendanceCertificate,
	"attestation_presence":  domain.DeliverableAttendanceCertificate,
}

func deliverables(v gjson.Result) map[string]string {
	out := map[string]string{}
	merge := func(obj gjson.Result, override bool) {
		obj.ForEach(func(k, val gjson.Result) bool {
			ref := scalar(val)
			if strings.TrimSpace(ref) == "" {
				return true
			}
			key := k.String()
			if alias, ok := deliverableAliases[key]; ok {
				key = alias
			}
			if _, taken := out[key]; taken && !override {
				return true
			}
			out[key] = ref
			return true
		})
	}
	merge(v.Get("livrables"), false)
	// canonical entries win over legacy ones
	merge(v.Get("deliverables"), true)
	return out
}

func programType(v string) catalog.ProgramType {
	if pt, err := catalog.ParseProgramType(v); err == nil {
		return pt
	}
	return catalog.ProgramType(v)
}

// str returns the first non-blank value among keys; when every key is blank it
// returns the first present value so blank canonical fields round-trip.
func str(v gjson.Result, keys ...string) string {
	results := make([]gjson.Result, len(keys))
	for i, k := range keys {
		results[i] = v.Get(k)
	}
	return pick(results...)
}

func pick(results ...gjson.Result) string {
	fallback := ""
	seen := false
	for _, r := range results {
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		s := scalar(r)
		if strings.TrimSpace(s) != "" {
			return s
		}
		if !seen {
			fallback, seen = s, true
		}
	}
	return fallback
}

func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number, gjson.True, gjson.False:
		return r.Raw
	}
	return ""
}

// boolean reads the first populated key, so a canonical false is never
// overridden by a legacy alias.
func boolean(v gjson.Result, keys ...string) bool {
	for _, k := range keys {
		r := v.Get(k)
		switch r.Type {
		case gjson.True:
			return true
		case gjson.False:
			return false
		case gjson.Number:
			return r.Num != 0
		case gjson.String:
			if strings.TrimSpace(r.Str) == "" {
				continue
			}
			return truthy[fold(r.Str)]
		}
	}
	return false
}

func (n Normalizer) ref(p string) string {
	if n.Tokenizer == nil || !filepath.IsAbs(p) {
		return p
	}
	if ref, err := n.Tokenizer.Tokenize(p); err == nil {
		return ref
	}
	return p
}

// sameJSON compares two documents structurally.
func sameJSON(a, b []byte) bool {
	var av, bv any
	da := json.NewDecoder(bytes.NewReader(a))
	da.UseNumber()
	if err := da.Decode(&av); err != nil {
		return false
	}
	db := json.NewDecoder(bytes.NewReader(b))
	db.UseNumber()
	if err := db.Decode(&bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
