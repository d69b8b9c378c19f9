package domain

import "dossierline/internal/catalog"

// SchemaVersion is written into every canonical store.
const SchemaVersion = 2

// Store is the whole persisted state.
type Store struct {
	SchemaVersion int       `json:"schema_version"`
	Sessions      []Session `json:"sessions"`
}

type Session struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	ProgramType catalog.ProgramType `json:"program_type" enum:"APS,A3P,DIRIGEANT_INITIAL,DIRIGEANT_VAE,SSIAP1,CHEF_DE_POSTE"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	ExamDate    string              `json:"exam_date"`
	Archived    bool                `json:"archived"`
	CreatedAt   string              `json:"created_at" format:"date-time"`
	Trainees    []Trainee           `json:"trainees"`
}

type Trainee struct {
	ID                  string                  `json:"id"`
	LastName            string                  `json:"last_name"`
	FirstName           string                  `json:"first_name"`
	Email               string                  `json:"email"`
	Phone               string                  `json:"phone"`
	Token               string                  `json:"token"`
	ConventionStatus    ConventionStatus        `json:"convention_status"`
	TestFrStatus        TestFrStatus            `json:"test_fr_status"`
	FundingStatus       FundingStatus           `json:"funding_status"`
	QualificationStatus QualificationStatus     `json:"qualification_status"`
	ClearanceStatus     SecurityClearanceStatus `json:"security_clearance_status"`
	AccommodationStatus AccommodationStatus     `json:"accommodation_status"`
	DossierStatus       DossierStatus           `json:"dossier_status"`
	LicenseWaiver       bool                    `json:"license_waiver"`
	Comment             string                  `json:"comment"`
	Profile             Profile                 `json:"profile"`
	Documents           []DocumentSlot          `json:"documents"`
	Deliverables        map[string]string       `json:"deliverables"`
	CreatedAt           string                  `json:"created_at" format:"date-time"`
}

type Profile struct {
	BirthDate             string `json:"birth_date"`
	BirthCity             string `json:"birth_city"`
	BirthCountry          string `json:"birth_country"`
	Nationality           string `json:"nationality"`
	Address               string `json:"address"`
	PostalCode            string `json:"postal_code"`
	City                  string `json:"city"`
	HealthInsuranceNumber string `json:"health_insurance_number"`
	PreNumber             string `json:"pre_number"`
}

type DocumentSlot struct {
	Key          string               `json:"key"`
	Label        string               `json:"label"`
	ContentClass catalog.ContentClass `json:"content_class"`
	Status       DocumentStatus       `json:"status" enum:"not_submitted,under_review,compliant,non_compliant"`
	Comment      string               `json:"comment"`
	Files        []string             `json:"files"`
}

// PrimaryFile returns the first submitted reference, kept for single-file consumers.
func (s DocumentSlot) PrimaryFile() string {
	if len(s.Files) == 0 {
		return ""
	}
	return s.Files[0]
}

// Slot returns the trainee's slot for key.
func (t *Trainee) Slot(key string) (*DocumentSlot, bool) {
	for i := range t.Documents {
		if t.Documents[i].Key == key {
			return &t.Documents[i], true
		}
	}
	return nil, false
}

// Session returns a pointer into the store for id.
func (s *Store) Session(id string) (*Session, bool) {
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			return &s.Sessions[i], true
		}
	}
	return nil, false
}

// Trainee returns a pointer into the session for id.
func (s *Session) Trainee(id string) (*Trainee, bool) {
	for i := range s.Trainees {
		if s.Trainees[i].ID == id {
			return &s.Trainees[i], true
		}
	}
	return nil, false
}

// FindByToken locates the trainee holding a capability token.
func (s *Store) FindByToken(token string) (*Session, *Trainee, bool) {
	if token == "" {
		return nil, nil, false
	}
	for i := range s.Sessions {
		for j := range s.Sessions[i].Trainees {
			if s.Sessions[i].Trainees[j].Token == token {
				return &s.Sessions[i], &s.Sessions[i].Trainees[j], true
			}
		}
	}
	return nil, nil, false
}

// Deliverable kinds attached after training; plain references, no review.
const (
	DeliverableDiploma               = "diploma"
	DeliverableTrainingCertificate   = "training_certificate"
	DeliverableAttendanceCertificate = "attendance_certificate"
)

// DeliverableKinds lists accepted deliverable kinds.
func DeliverableKinds() []string {
	return []string{DeliverableDiploma, DeliverableTrainingCertificate, DeliverableAttendanceCertificate}
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Snapshot is the persisted store payload with its write revision.
type Snapshot struct {
	Payload   []byte
	Revision  int64
	UpdatedAt string
}

// Backup is a stored copy of a payload that could not be decoded.
type Backup struct {
	ID        int64  `json:"id"`
	Revision  int64  `json:"revision"`
	Reason    string `json:"reason"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
