package dossier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
)

func validProfile() domain.Profile {
	return domain.Profile{
		BirthDate:             "1990-04-12",
		BirthCity:             "Toulon",
		BirthCountry:          "France",
		Nationality:           "Française",
		Address:               "12 rue des Lilas",
		PostalCode:            "83000",
		City:                  "Toulon",
		HealthInsuranceNumber: "1 90 04 83 137 042 17",
		PreNumber:             "PRE-083-2025-12-01-20250000000",
	}
}

func traineeWith(pt catalog.ProgramType, status domain.DocumentStatus) domain.Trainee {
	t := domain.Trainee{Profile: validProfile()}
	for _, def := range catalog.RequiredDocuments(pt) {
		t.Documents = append(t.Documents, domain.DocumentSlot{Key: def.Key, Label: def.Label, ContentClass: def.ContentClass, Status: status, Files: []string{}})
	}
	return t
}

func TestSubmitTransitions(t *testing.T) {
	slot := domain.DocumentSlot{Key: catalog.KeyIDPhoto, Status: domain.DocumentNotSubmitted, Files: []string{}}
	Submit(&slot, "a.jpg")
	assert.Equal(t, domain.DocumentUnderReview, slot.Status)
	assert.Equal(t, "a.jpg", slot.PrimaryFile())

	require.NoError(t, Review(&slot, domain.DocumentCompliant, "ok"))
	Submit(&slot, "b.jpg")
	assert.Equal(t, domain.DocumentCompliant, slot.Status)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, slot.Files)
	assert.Equal(t, "a.jpg", slot.PrimaryFile())
}

func TestResubmitAfterRejectionKeepsVerdict(t *testing.T) {
	slot := domain.DocumentSlot{Key: catalog.KeyIDPhoto, Status: domain.DocumentNotSubmitted}
	Submit(&slot, "a.jpg")
	require.NoError(t, Review(&slot, domain.DocumentNonCompliant, "blurry"))
	Submit(&slot, "b.jpg")
	assert.Equal(t, domain.DocumentNonCompliant, slot.Status)
	assert.Equal(t, "blurry", slot.Comment)
}

func TestReviewRules(t *testing.T) {
	slot := domain.DocumentSlot{Key: catalog.KeyIDPhoto, Status: domain.DocumentNotSubmitted}
	err := Review(&slot, domain.DocumentCompliant, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	Submit(&slot, "a.jpg")
	assert.ErrorIs(t, Review(&slot, domain.DocumentUnderReview, ""), ErrInvalidTransition)
	require.NoError(t, Review(&slot, domain.DocumentNonCompliant, "expired"))
	require.NoError(t, Review(&slot, domain.DocumentCompliant, "fine now"))
	assert.Equal(t, "fine now", slot.Comment)
}

func TestClear(t *testing.T) {
	slot := domain.DocumentSlot{Key: catalog.KeyIDPhoto, Status: domain.DocumentNotSubmitted}
	assert.Empty(t, Clear(&slot))

	Submit(&slot, "a.jpg")
	Submit(&slot, "b.jpg")
	require.NoError(t, Review(&slot, domain.DocumentNonCompliant, "no"))
	removed := Clear(&slot)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, removed)
	assert.Equal(t, domain.DocumentNotSubmitted, slot.Status)
	assert.Empty(t, slot.Comment)
	assert.NotNil(t, slot.Files)
	assert.Empty(t, slot.Files)
}

func TestProfileValidation(t *testing.T) {
	assert.True(t, ValidPreNumber("PRE-083-2025-12-01-20250000000"))
	assert.True(t, ValidPreNumber("car-083-2025-12-01-202500000001"))
	assert.True(t, ValidPreNumber(" PRE-083 -2025-12-01-20250000000 "))
	assert.False(t, ValidPreNumber("PRE-83-2025-12-1-20250000000"))
	assert.False(t, ValidPreNumber("PRE-083-2025-12-01-2025000000"))
	assert.False(t, ValidPreNumber("XYZ-083-2025-12-01-20250000000"))

	assert.NoError(t, ValidateProfileField(FieldHealthInsuranceNumber, "190048313704217"))
	assert.NoError(t, ValidateProfileField(FieldHealthInsuranceNumber, "1-90-04-83-137-042-17"))
	assert.ErrorIs(t, ValidateProfileField(FieldHealthInsuranceNumber, "19004831370421"), ErrInvalidProfileValue)
	assert.ErrorIs(t, ValidateProfileField(FieldHealthInsuranceNumber, "1900483137042171"), ErrInvalidProfileValue)

	err := ValidateProfileField(FieldCity, "   ")
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FieldCity, fe.Field)

	assert.Error(t, ValidateProfileField("shoe_size", "42"))
}

func TestValidateProfileListsFailures(t *testing.T) {
	assert.Empty(t, ValidateProfile(validProfile()))
	p := validProfile()
	p.Address = ""
	p.PreNumber = "nope"
	errs := ValidateProfile(p)
	require.Len(t, errs, 2)
	assert.Equal(t, FieldAddress, errs[0].Field)
	assert.Equal(t, FieldPreNumber, errs[1].Field)
}

func TestIsComplete(t *testing.T) {
	tr := traineeWith(catalog.ProgramAPS, domain.DocumentCompliant)
	assert.True(t, IsComplete(tr, catalog.ProgramAPS))

	// APS dossier lacks vehicle documents, so it is not complete for A3P.
	assert.False(t, IsComplete(tr, catalog.ProgramA3P))

	tr.Documents[1].Status = domain.DocumentUnderReview
	assert.False(t, IsComplete(tr, catalog.ProgramAPS))

	tr = traineeWith(catalog.ProgramAPS, domain.DocumentCompliant)
	tr.Profile.HealthInsuranceNumber = "123"
	assert.False(t, IsComplete(tr, catalog.ProgramAPS))
}

func TestWaiver(t *testing.T) {
	tr := traineeWith(catalog.ProgramA3P, domain.DocumentCompliant)
	slot, _ := tr.Slot(catalog.KeyDrivingLicense)
	slot.Status = domain.DocumentNotSubmitted
	assert.False(t, IsComplete(tr, catalog.ProgramA3P))

	tr.LicenseWaiver = true
	assert.True(t, IsComplete(tr, catalog.ProgramA3P))

	// the waiver exempts the driving licence only
	med, _ := tr.Slot(catalog.KeyMedicalCertificate)
	med.Status = domain.DocumentNotSubmitted
	assert.False(t, IsComplete(tr, catalog.ProgramA3P))
}

func TestRefresh(t *testing.T) {
	tr := traineeWith(catalog.ProgramAPS, domain.DocumentCompliant)
	tr.DossierStatus = domain.DossierIncomplete
	assert.True(t, Refresh(&tr, catalog.ProgramAPS))
	assert.Equal(t, domain.DossierComplete, tr.DossierStatus)
	assert.False(t, Refresh(&tr, catalog.ProgramAPS))
}

func conformTrainee() domain.Trainee {
	return domain.Trainee{
		ConventionStatus:    domain.ConventionSigned,
		TestFrStatus:        domain.TestFrValidated,
		DossierStatus:       domain.DossierComplete,
		FundingStatus:       domain.FundingValidated,
		QualificationStatus: domain.QualificationNotApplicable,
	}
}

func TestEvaluateSession(t *testing.T) {
	empty := domain.Session{ProgramType: catalog.ProgramAPS}
	assert.Equal(t, SessionReport{}, EvaluateSession(empty))

	unfunded := conformTrainee()
	unfunded.FundingStatus = domain.FundingPendingValidation
	s := domain.Session{ProgramType: catalog.ProgramAPS, Trainees: []domain.Trainee{conformTrainee(), conformTrainee(), unfunded}}
	assert.Equal(t, SessionReport{Total: 3, ConformCount: 2, NonConformCount: 1, SessionConform: false}, EvaluateSession(s))

	s.Trainees = s.Trainees[:2]
	assert.True(t, EvaluateSession(s).SessionConform)
}

func TestQualificationOnlyForVAE(t *testing.T) {
	tr := conformTrainee()
	tr.QualificationStatus = domain.QualificationInProgress
	assert.True(t, IsConform(tr, catalog.ProgramDirigeantInitial))
	assert.False(t, IsConform(tr, catalog.ProgramDirigeantVAE))
	tr.QualificationStatus = domain.QualificationValidated
	assert.True(t, IsConform(tr, catalog.ProgramDirigeantVAE))
}
