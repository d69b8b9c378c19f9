package server

import (
	"encoding/json"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/engine"
)

// Request payloads

type CreateSessionRequest struct {
	Name        string `json:"name"`
	ProgramType string `json:"program_type"`
	StartDate   string `json:"start_date,omitempty" example:"2025-03-03"`
	EndDate     string `json:"end_date,omitempty" example:"2025-04-11"`
	ExamDate    string `json:"exam_date,omitempty" example:"2025-04-14"`
}

type UpdateSessionRequest struct {
	Name        *string `json:"name,omitempty"`
	ProgramType *string `json:"program_type,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	ExamDate    *string `json:"exam_date,omitempty"`
}

type ArchiveSessionRequest struct {
	Archived bool `json:"archived"`
}

type CreateTraineeRequest struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type UpdateTraineeRequest struct {
	LastName            *string `json:"last_name,omitempty"`
	FirstName           *string `json:"first_name,omitempty"`
	Email               *string `json:"email,omitempty"`
	Phone               *string `json:"phone,omitempty"`
	ConventionStatus    *string `json:"convention_status,omitempty" enum:"not_started,signing,signed"`
	TestFrStatus        *string `json:"test_fr_status,omitempty" enum:"not_started,in_progress,validated,reminded"`
	FundingStatus       *string `json:"funding_status,omitempty" enum:"not_started,pending_validation,validated"`
	QualificationStatus *string `json:"qualification_status,omitempty" enum:"not_started,in_progress,validated,not_applicable"`
	ClearanceStatus     *string `json:"security_clearance_status,omitempty" enum:"unknown,pending,valid,refused,expired"`
	AccommodationStatus *string `json:"accommodation_status,omitempty" enum:"unknown,pending,booked,not_needed,not_applicable"`
	LicenseWaiver       *bool   `json:"license_waiver,omitempty"`
	Comment             *string `json:"comment,omitempty"`
}

type ReviewDocumentRequest struct {
	Verdict string `json:"verdict" enum:"compliant,non_compliant"`
	Comment string `json:"comment,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Responses

type SessionListResponse struct {
	Items []engine.SessionSummary `json:"items"`
}

type SessionResponse struct {
	domain.Session
	Report dossier.SessionReport `json:"report"`
}

type CatalogResponse struct {
	ProgramType string                       `json:"program_type"`
	Documents   []catalog.DocumentDefinition `json:"documents"`
	Waivable    string                       `json:"waivable,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is only returned once, on creation.
	Key string `json:"key,omitempty"`
}

type NormalizeResponse struct {
	Changed bool `json:"changed"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// PortalResponse is what a trainee sees behind their capability link.
type PortalResponse struct {
	Session  PortalSession                `json:"session"`
	Trainee  PortalTrainee                `json:"trainee"`
	Catalog  []catalog.DocumentDefinition `json:"catalog"`
	Issues   []*dossier.FieldError        `json:"issues"`
	Complete bool                         `json:"complete"`
}

type PortalSession struct {
	Name        string `json:"name"`
	ProgramType string `json:"program_type"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	ExamDate    string `json:"exam_date,omitempty"`
}

// PortalTrainee omits reviewer-only fields.
type PortalTrainee struct {
	ID            string                `json:"id"`
	LastName      string                `json:"last_name"`
	FirstName     string                `json:"first_name"`
	Email         string                `json:"email,omitempty"`
	Profile       domain.Profile        `json:"profile"`
	Documents     []domain.DocumentSlot `json:"documents"`
	DossierStatus domain.DossierStatus  `json:"dossier_status"`
	LicenseWaiver bool                  `json:"license_waiver"`
}

func sessionResponse(s domain.Session) SessionResponse {
	if s.Trainees == nil {
		s.Trainees = []domain.Trainee{}
	}
	return SessionResponse{Session: s, Report: dossier.EvaluateSession(s)}
}

func catalogResponse(pt catalog.ProgramType) CatalogResponse {
	res := CatalogResponse{ProgramType: string(pt), Documents: catalog.RequiredDocuments(pt)}
	for _, d := range res.Documents {
		if d.Key == catalog.WaivableKey {
			res.Waivable = d.Key
		}
	}
	return res
}

func portalResponse(s domain.Session, t domain.Trainee) PortalResponse {
	issues := dossier.ValidateProfile(t.Profile)
	return PortalResponse{
		Session: PortalSession{
			Name:        s.Name,
			ProgramType: string(s.ProgramType),
			StartDate:   s.StartDate,
			EndDate:     s.EndDate,
			ExamDate:    s.ExamDate,
		},
		Trainee: PortalTrainee{
			ID:            t.ID,
			LastName:      t.LastName,
			FirstName:     t.FirstName,
			Email:         t.Email,
			Profile:       t.Profile,
			Documents:     nonNilSlice(t.Documents),
			DossierStatus: t.DossierStatus,
			LicenseWaiver: t.LicenseWaiver,
		},
		Catalog:  catalog.RequiredDocuments(s.ProgramType),
		Issues:   nonNilSlice(issues),
		Complete: t.DossierStatus == domain.DossierComplete,
	}
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
