package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredDocumentsOrder(t *testing.T) {
	assert.Equal(t, []string{
		KeyIdentityDocument, KeyIDPhoto, KeyHealthInsurance, KeySecurityClearance,
	}, RequiredKeys(ProgramAPS))

	assert.Equal(t, []string{
		KeyIdentityDocument, KeyIDPhoto, KeyHealthInsurance, KeySecurityClearance,
		KeyDrivingLicense, KeyMedicalCertificate, KeyLiabilityInsurance,
	}, RequiredKeys(ProgramA3P))
}

func TestRequiredDocumentsReturnsCopy(t *testing.T) {
	defs := RequiredDocuments(ProgramA3P)
	defs[0].Key = "tampered"
	assert.Equal(t, KeyIdentityDocument, RequiredDocuments(ProgramA3P)[0].Key)
}

func TestLookup(t *testing.T) {
	def, err := Lookup(ProgramA3P, KeyDrivingLicense)
	require.NoError(t, err)
	assert.Equal(t, ClassDocument, def.ContentClass)

	_, err = Lookup(ProgramAPS, KeyDrivingLicense)
	assert.True(t, errors.Is(err, ErrUnknownDocumentKey))
}

func TestParseProgramType(t *testing.T) {
	cases := map[string]ProgramType{
		"APS":               ProgramAPS,
		"DIRIGEANT VAE":     ProgramDirigeantVAE,
		"DIRIGEANT initial": ProgramDirigeantInitial,
		"SSIAP 1":           ProgramSSIAP1,
		" chef  de poste ":  ProgramChefDePoste,
		"DIRIGEANT_VAE":     ProgramDirigeantVAE,
	}
	for in, want := range cases {
		got, err := ParseProgramType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProgramType("CQP")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestAccepts(t *testing.T) {
	assert.NoError(t, Accepts(ClassDocument, "scan.PDF", "application/pdf"))
	assert.NoError(t, Accepts(ClassPhoto, "me.jpg", "image/jpeg"))
	assert.NoError(t, Accepts(ClassPhoto, "me.png", ""))
	assert.ErrorIs(t, Accepts(ClassPhoto, "me.pdf", "application/pdf"), ErrUnsupportedContent)
	assert.ErrorIs(t, Accepts(ClassDocument, "scan.pdf", "application/zip"), ErrUnsupportedContent)
	assert.ErrorIs(t, Accepts(ClassDocument, "noext", ""), ErrUnsupportedContent)
}
