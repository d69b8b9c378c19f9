package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ProgramType is the training course category a session belongs to.
type ProgramType string

const (
	ProgramAPS              ProgramType = "APS"
	ProgramA3P              ProgramType = "A3P"
	ProgramDirigeantInitial ProgramType = "DIRIGEANT_INITIAL"
	ProgramDirigeantVAE     ProgramType = "DIRIGEANT_VAE"
	ProgramSSIAP1           ProgramType = "SSIAP1"
	ProgramChefDePoste      ProgramType = "CHEF_DE_POSTE"
)

// VehicleEscortProgram requires the vehicle documents addendum.
const VehicleEscortProgram = ProgramA3P

// QualificationProgram requires a validated qualification status for conformity.
const QualificationProgram = ProgramDirigeantVAE

var programTypes = []ProgramType{
	ProgramAPS,
	ProgramA3P,
	ProgramDirigeantInitial,
	ProgramDirigeantVAE,
	ProgramSSIAP1,
	ProgramChefDePoste,
}

// legacy labels as typed in the session creation form
var programLabels = map[string]ProgramType{
	"aps":               ProgramAPS,
	"a3p":               ProgramA3P,
	"dirigeant initial": ProgramDirigeantInitial,
	"dirigeant_initial": ProgramDirigeantInitial,
	"dirigeant vae":     ProgramDirigeantVAE,
	"dirigeant_vae":     ProgramDirigeantVAE,
	"ssiap 1":           ProgramSSIAP1,
	"ssiap1":            ProgramSSIAP1,
	"ssiap_1":           ProgramSSIAP1,
	"chef de poste":     ProgramChefDePoste,
	"chef_de_poste":     ProgramChefDePoste,
}

var (
	ErrUnknownProgram     = errors.New("unknown program type")
	ErrUnknownDocumentKey = errors.New("unknown document key")
	ErrUnsupportedContent = errors.New("unsupported content")
)

// ProgramTypes lists the closed set of program types in display order.
func ProgramTypes() []ProgramType {
	out := make([]ProgramType, len(programTypes))
	copy(out, programTypes)
	return out
}

// ParseProgramType accepts canonical codes and the legacy display labels.
func ParseProgramType(s string) (ProgramType, error) {
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if pt, ok := programLabels[key]; ok {
		return pt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProgram, s)
}

// Valid reports whether pt is one of the known program types.
func (pt ProgramType) Valid() bool {
	for _, p := range programTypes {
		if p == pt {
			return true
		}
	}
	return false
}

// ContentClass groups accepted file kinds for a document.
type ContentClass string

const (
	// ClassDocument accepts PDF scans and photos.
	ClassDocument ContentClass = "document"
	// ClassPhoto accepts images only.
	ClassPhoto ContentClass = "photo"
)

// DocumentDefinition is one required entry of a program's catalog.
type DocumentDefinition struct {
	Key          string       `json:"key"`
	Label        string       `json:"label"`
	ContentClass ContentClass `json:"content_class"`
}

const (
	KeyIdentityDocument   = "identity_document"
	KeyIDPhoto            = "id_photo"
	KeyHealthInsurance    = "health_insurance"
	KeySecurityClearance  = "security_clearance"
	KeyDrivingLicense     = "driving_license"
	KeyMedicalCertificate = "medical_certificate"
	KeyLiabilityInsurance = "liability_insurance"
)

// WaivableKey is the only entry a trainee waiver can exempt.
const WaivableKey = KeyDrivingLicense

var commonDocuments = []DocumentDefinition{
	{Key: KeyIdentityDocument, Label: "Pièce d'identité", ContentClass: ClassDocument},
	{Key: KeyIDPhoto, Label: "Photo d'identité", ContentClass: ClassPhoto},
	{Key: KeyHealthInsurance, Label: "Attestation de carte vitale", ContentClass: ClassDocument},
	{Key: KeySecurityClearance, Label: "Autorisation préalable CNAPS", ContentClass: ClassDocument},
}

var vehicleEscortDocuments = []DocumentDefinition{
	{Key: KeyDrivingLicense, Label: "Permis de conduire", ContentClass: ClassDocument},
	{Key: KeyMedicalCertificate, Label: "Certificat médical", ContentClass: ClassDocument},
	{Key: KeyLiabilityInsurance, Label: "Attestation d'assurance responsabilité civile", ContentClass: ClassDocument},
}

// RequiredDocuments returns the ordered catalog for a program type.
// The returned slice is a fresh copy.
func RequiredDocuments(pt ProgramType) []DocumentDefinition {
	out := make([]DocumentDefinition, 0, len(commonDocuments)+len(vehicleEscortDocuments))
	out = append(out, commonDocuments...)
	if pt == VehicleEscortProgram {
		out = append(out, vehicleEscortDocuments...)
	}
	return out
}

// RequiredKeys returns the catalog keys in order.
func RequiredKeys(pt ProgramType) []string {
	defs := RequiredDocuments(pt)
	keys := make([]string, len(defs))
	for i, d := range defs {
		keys[i] = d.Key
	}
	return keys
}

// Lookup finds a definition in the program's current catalog.
func Lookup(pt ProgramType, key string) (DocumentDefinition, error) {
	for _, d := range RequiredDocuments(pt) {
		if d.Key == key {
			return d, nil
		}
	}
	return DocumentDefinition{}, fmt.Errorf("%w: %s for program %s", ErrUnknownDocumentKey, key, pt)
}

// Known reports whether key belongs to any program's catalog.
func Known(key string) bool {
	for _, d := range commonDocuments {
		if d.Key == key {
			return true
		}
	}
	for _, d := range vehicleEscortDocuments {
		if d.Key == key {
			return true
		}
	}
	return false
}

var classExtensions = map[ContentClass][]string{
	ClassDocument: {".pdf", ".jpg", ".jpeg", ".png", ".heic", ".webp"},
	ClassPhoto:    {".jpg", ".jpeg", ".png", ".heic", ".webp"},
}

var classMIMEs = map[ContentClass][]string{
	ClassDocument: {"application/pdf", "image/jpeg", "image/png", "image/heic", "image/heif", "image/webp"},
	ClassPhoto:    {"image/jpeg", "image/png", "image/heic", "image/heif", "image/webp"},
}

// Accepts checks a file name extension and a sniffed MIME type against a content class.
// An empty mime skips the MIME check.
func Accepts(class ContentClass, filename, mime string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !contains(classExtensions[class], ext) {
		return fmt.Errorf("%w: extension %q not accepted for %s", ErrUnsupportedContent, ext, class)
	}
	if mime == "" {
		return nil
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if !contains(classMIMEs[class], base) {
		return fmt.Errorf("%w: content type %q not accepted for %s", ErrUnsupportedContent, base, class)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
