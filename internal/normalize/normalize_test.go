package normalize

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/fileref"
)

const legacyStore = `{
  "sessions": [
    {
      "id": "a1b2c3d4e5",
      "nom": "APS Janvier",
      "date_debut": "2025-01-06",
      "date_fin": "2025-02-14",
      "date_examen": "2025-02-17",
      "type_formation": "APS",
      "created_at": "2024-12-01T10:00:00Z",
      "stagiaires": [
        {
          "id": "STG-0A1B2C3D",
          "nom": "Martin",
          "prenom": "Léa",
          "email": "lea@example.com",
          "telephone": "0600000000",
          "convention": "signée",
          "test_francais": "validé",
          "dossier": "complet",
          "financement": "prochainement",
          "vae": "non concerné",
          "cnaps": "inconnu",
          "commentaire": "rappeler lundi"
        }
      ]
    }
  ]
}`

const legacyA3P = `{
  "sessions": [
    {
      "id": "s-a3p",
      "nom": "A3P Mars",
      "type_formation": "A3P",
      "stagiaires": [
        {
          "id": "STG-1",
          "nom": "Durand",
          "prenom": "Paul",
          "convention": "en cours de signature",
          "test_francais": "relancé",
          "financement": "en cours de validation",
          "dossier": "incomplet",
          "date_naissance": "1988-02-03",
          "adresse": "3 place du Marché",
          "documents": {
            "piece_identite": {"statut": "conforme", "fichier": "2025/03/id.pdf"},
            "permis": {"statut": "à vérifier", "files": ["2025/03/permis-recto.jpg", "2025/03/permis-verso.jpg"]},
            "cv": {"statut": "conforme", "fichier": "2025/03/cv.pdf"},
            "photo": "2025/03/photo.jpg"
          }
        }
      ]
    }
  ]
}`

func roundTrip(t *testing.T, raw []byte) domain.Store {
	t.Helper()
	first, _ := Normalize(raw)
	encoded, err := json.Marshal(first)
	require.NoError(t, err)

	second, changed := Normalize(encoded)
	assert.False(t, changed, "second pass must be a no-op")
	require.Equal(t, first, second)

	again, err := json.Marshal(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(encoded, again), "canonical encoding must be stable")
	return first
}

func TestIdempotence(t *testing.T) {
	fixtures := []string{
		legacyStore,
		legacyA3P,
		`{}`,
		`{"sessions": []}`,
		`not json at all`,
		``,
		`[{"nom": "bare list", "type_formation": "DIRIGEANT VAE", "stagiaires": [{"nom": "X"}]}]`,
		`{"sessions": [{"name": "odd", "program_type": "CQP", "trainees": [{"id": "t", "documents": [{"key": "id_photo", "status": "bogus", "files": ["a.jpg"]}]}]}]}`,
		`{"sessions": [{"type_formation": "A3P", "stagiaires": [{"cnaps": "Carte 083-2030", "hebergement": "chez un proche"}]}]}`,
		`{"sessions": [{"name": "n", "archived": "oui", "trainees": [{"deliverables": {"diplome": "d.pdf", "custom": "c.pdf"}, "livrables": {"diplome": "old.pdf"}}]}]}`,
	}
	for _, f := range fixtures {
		roundTrip(t, []byte(f))
	}
}

func TestLegacyMigrationExample(t *testing.T) {
	store, changed := Normalize([]byte(legacyStore))
	require.True(t, changed)
	require.Len(t, store.Sessions, 1)

	s := store.Sessions[0]
	assert.Equal(t, "APS Janvier", s.Name)
	assert.Equal(t, catalog.ProgramAPS, s.ProgramType)
	assert.Equal(t, "2025-02-17", s.ExamDate)
	require.Len(t, s.Trainees, 1)

	tr := s.Trainees[0]
	assert.Equal(t, "Martin", tr.LastName)
	assert.Equal(t, "Léa", tr.FirstName)
	assert.Equal(t, "0600000000", tr.Phone)
	assert.Equal(t, "rappeler lundi", tr.Comment)
	assert.Equal(t, domain.ConventionSigned, tr.ConventionStatus)
	assert.Equal(t, domain.TestFrValidated, tr.TestFrStatus)
	assert.Equal(t, domain.FundingNotStarted, tr.FundingStatus)
	assert.Equal(t, domain.QualificationNotApplicable, tr.QualificationStatus)
	assert.Equal(t, domain.ClearanceUnknown, tr.ClearanceStatus)
	assert.Equal(t, domain.AccommodationNotApplicable, tr.AccommodationStatus)
	// legacy "complet" is discarded: no document is compliant yet
	assert.Equal(t, domain.DossierIncomplete, tr.DossierStatus)
	assert.Equal(t, catalog.RequiredKeys(catalog.ProgramAPS), slotKeys(tr))
}

func TestDocumentSlotMigration(t *testing.T) {
	store := roundTrip(t, []byte(legacyA3P))
	tr := store.Sessions[0].Trainees[0]

	assert.Equal(t, catalog.RequiredKeys(catalog.ProgramA3P), slotKeys(tr))

	id, _ := tr.Slot(catalog.KeyIdentityDocument)
	assert.Equal(t, domain.DocumentCompliant, id.Status)
	assert.Equal(t, []string{"2025/03/id.pdf"}, id.Files)
	assert.Equal(t, "2025/03/id.pdf", id.PrimaryFile())

	lic, _ := tr.Slot(catalog.KeyDrivingLicense)
	assert.Equal(t, domain.DocumentUnderReview, lic.Status)
	assert.Len(t, lic.Files, 2)

	photo, _ := tr.Slot(catalog.KeyIDPhoto)
	assert.Equal(t, domain.DocumentUnderReview, photo.Status)
	assert.Equal(t, []string{"2025/03/photo.jpg"}, photo.Files)

	med, _ := tr.Slot(catalog.KeyMedicalCertificate)
	assert.Equal(t, domain.DocumentNotSubmitted, med.Status)
	assert.NotNil(t, med.Files)

	assert.Equal(t, domain.ConventionSigning, tr.ConventionStatus)
	assert.Equal(t, domain.TestFrReminded, tr.TestFrStatus)
	assert.Equal(t, domain.FundingPendingValidation, tr.FundingStatus)
	assert.Equal(t, "1988-02-03", tr.Profile.BirthDate)
	assert.Equal(t, "3 place du Marché", tr.Profile.Address)
}

func TestCatalogCompletenessForEveryProgram(t *testing.T) {
	for _, pt := range catalog.ProgramTypes() {
		raw := `{"sessions":[{"program_type":"` + string(pt) + `","trainees":[{"documents":{"permis":"x.pdf","cv":"y.pdf"}}]}]}`
		store, _ := Normalize([]byte(raw))
		assert.Equal(t, catalog.RequiredKeys(pt), slotKeys(store.Sessions[0].Trainees[0]), string(pt))
	}
}

func TestCanonicalFieldWins(t *testing.T) {
	store, _ := Normalize([]byte(`{"sessions":[
		{"name":"Nouveau","nom":"Ancien","program_type":"APS"},
		{"name":"","nom":"Ancien","program_type":"","type_formation":"SSIAP 1"}
	]}`))
	assert.Equal(t, "Nouveau", store.Sessions[0].Name)
	assert.Equal(t, "Ancien", store.Sessions[1].Name)
	assert.Equal(t, catalog.ProgramSSIAP1, store.Sessions[1].ProgramType)
}

func TestCanonicalSlotKeyBeatsAlias(t *testing.T) {
	store, _ := Normalize([]byte(`{"sessions":[{"program_type":"APS","trainees":[{"documents":{
		"photo": {"statut": "non conforme", "fichier": "old.jpg"},
		"id_photo": {"status": "compliant", "files": ["new.jpg"]}
	}}]}]}`))
	tr := store.Sessions[0].Trainees[0]
	slot, _ := tr.Slot(catalog.KeyIDPhoto)
	assert.Equal(t, domain.DocumentCompliant, slot.Status)
	assert.Equal(t, []string{"new.jpg"}, slot.Files)
}

func TestUnknownValuesDegrade(t *testing.T) {
	store, _ := Normalize([]byte(`{"sessions":[{"program_type":"DIRIGEANT VAE","stagiaires":[
		{"convention":"peut-être","test_francais":42,"financement":null}
	]}]}`))
	tr := store.Sessions[0].Trainees[0]
	assert.Equal(t, domain.ConventionNotStarted, tr.ConventionStatus)
	assert.Equal(t, domain.TestFrNotStarted, tr.TestFrStatus)
	assert.Equal(t, domain.FundingNotStarted, tr.FundingStatus)
	assert.Equal(t, domain.QualificationNotStarted, tr.QualificationStatus)
}

func TestClearanceAndAccommodationSurvive(t *testing.T) {
	raw := `{"sessions":[
		{"type_formation":"A3P","stagiaires":[
			{"cnaps":"VALIDE","hebergement":"réservé"},
			{"cnaps":"Carte 083-2030","hebergement":"chez un proche"},
			{"cnaps":"inconnu","hebergement":null}
		]},
		{"type_formation":"APS","stagiaires":[
			{"cnaps":"en cours","hebergement":"réservé"},
			{"nom":"Sans statut"}
		]}
	]}`
	store := roundTrip(t, []byte(raw))

	a3p := store.Sessions[0].Trainees
	assert.Equal(t, domain.ClearanceValid, a3p[0].ClearanceStatus)
	assert.Equal(t, domain.AccommodationBooked, a3p[0].AccommodationStatus)
	assert.Equal(t, domain.SecurityClearanceStatus("Carte 083-2030"), a3p[1].ClearanceStatus)
	assert.Equal(t, domain.AccommodationStatus("chez un proche"), a3p[1].AccommodationStatus)
	assert.Equal(t, domain.ClearanceUnknown, a3p[2].ClearanceStatus)
	assert.Equal(t, domain.AccommodationUnknown, a3p[2].AccommodationStatus)

	aps := store.Sessions[1].Trainees
	assert.Equal(t, domain.ClearancePending, aps[0].ClearanceStatus)
	assert.Equal(t, domain.AccommodationBooked, aps[0].AccommodationStatus, "populated values outlive applicability")
	assert.Equal(t, domain.ClearanceUnknown, aps[1].ClearanceStatus)
	assert.Equal(t, domain.AccommodationNotApplicable, aps[1].AccommodationStatus)

	encoded, err := json.Marshal(store)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"security_clearance_status":"valid"`)
	assert.Contains(t, string(encoded), `"accommodation_status":"booked"`)
}

func TestCanonicalFlagBeatsLegacyAlias(t *testing.T) {
	store, _ := Normalize([]byte(`{"sessions":[
		{"archived":false,"archive":"oui","trainees":[{"license_waiver":false,"dispense_permis":"oui"}]},
		{"archived":"","archive":"oui","trainees":[{"dispense_permis":1}]},
		{"archived":0,"archivee":true},
		{"archive":"non","archivee":"oui"}
	]}`))
	require.Len(t, store.Sessions, 4)
	assert.False(t, store.Sessions[0].Archived)
	assert.False(t, store.Sessions[0].Trainees[0].LicenseWaiver)
	assert.True(t, store.Sessions[1].Archived, "blank canonical value falls back to the alias")
	assert.True(t, store.Sessions[1].Trainees[0].LicenseWaiver)
	assert.False(t, store.Sessions[2].Archived)
	assert.False(t, store.Sessions[3].Archived)
}

func TestSourceIsNotMutated(t *testing.T) {
	raw := []byte(legacyA3P)
	before := append([]byte(nil), raw...)
	Normalize(raw)
	assert.Equal(t, before, raw)
}

func TestInvalidInputYieldsEmptyStore(t *testing.T) {
	store, changed := Normalize([]byte(`{"sessions": [`))
	assert.True(t, changed)
	assert.Empty(t, store.Sessions)
	assert.Equal(t, domain.SchemaVersion, store.SchemaVersion)
}

func TestCanonicalInputUnchanged(t *testing.T) {
	store, _ := Normalize([]byte(legacyStore))
	encoded, err := json.Marshal(store)
	require.NoError(t, err)
	_, changed := Normalize(encoded)
	assert.False(t, changed)
}

func TestLegacyCompleteDossierIsRecomputed(t *testing.T) {
	raw := `{"sessions":[{"type_formation":"APS","stagiaires":[{
		"dossier":"incomplet",
		"profil":{"date_naissance":"1990-01-01","ville_naissance":"Nice","pays_naissance":"France",
		  "nationalite":"FR","adresse":"1 rue A","code_postal":"06000","ville":"Nice",
		  "numero_secu":"1 90 01 06 088 123 45","numero_pre":"CAR-006-2024-05-02-12345678901"},
		"documents":{
		  "piece_identite":{"statut":"conforme","fichier":"a.pdf"},
		  "photo":{"statut":"conforme","fichier":"b.jpg"},
		  "carte_vitale":{"statut":"conforme","fichier":"c.pdf"},
		  "autorisation_cnaps":{"statut":"conforme","fichier":"d.pdf"}
		}
	}]}]}`
	store := roundTrip(t, []byte(raw))
	assert.Equal(t, domain.DossierComplete, store.Sessions[0].Trainees[0].DossierStatus)
}

func TestTokenizerConvertsAbsoluteLegacyPaths(t *testing.T) {
	root := t.TempDir()
	tok, err := fileref.New(root)
	require.NoError(t, err)
	abs := filepath.Join(tok.Root(), "legacy", "id.pdf")
	raw, err := json.Marshal(map[string]any{
		"sessions": []any{map[string]any{
			"type_formation": "APS",
			"stagiaires": []any{map[string]any{
				"documents": map[string]any{"piece_identite": map[string]any{"fichier": abs}},
			}},
		}},
	})
	require.NoError(t, err)

	store, _ := Normalizer{Tokenizer: &tok}.Store(raw)
	slot, _ := store.Sessions[0].Trainees[0].Slot(catalog.KeyIdentityDocument)
	assert.Equal(t, []string{"legacy/id.pdf"}, slot.Files)
}

func TestReconcileSlotsOnProgramChange(t *testing.T) {
	slots := ReconcileSlots(nil, catalog.ProgramA3P)
	require.Len(t, slots, 7)
	slots[4].Files = []string{"permis.pdf"}
	slots[4].Status = domain.DocumentCompliant
	slots[0].Status = domain.DocumentCompliant
	slots[0].Files = []string{"id.pdf"}

	aps := ReconcileSlots(slots, catalog.ProgramAPS)
	assert.Equal(t, catalog.RequiredKeys(catalog.ProgramAPS), keysOf(aps))
	assert.Equal(t, domain.DocumentCompliant, aps[0].Status)

	back := ReconcileSlots(aps, catalog.ProgramA3P)
	assert.Equal(t, domain.DocumentNotSubmitted, back[4].Status)
	assert.Empty(t, back[4].Files)
}

func slotKeys(t domain.Trainee) []string { return keysOf(t.Documents) }

func keysOf(slots []domain.DocumentSlot) []string {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Key
	}
	return keys
}
