package engine

import (
	"context"
	"net/mail"
	"path/filepath"
	"strings"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/events"
	"dossierline/internal/normalize"
	"dossierline/internal/storage"
)

type TraineeInput struct {
	LastName  string
	FirstName string
	Email     string
	Phone     string
}

func checkEmail(v string) error {
	if v == "" {
		return nil
	}
	if _, err := mail.ParseAddress(v); err != nil {
		return invalid("email %q is not an address", v)
	}
	return nil
}

// AddTrainee enrolls a trainee at the head of the session list with a fresh
// capability token and one empty slot per catalog entry.
func (e Engine) AddTrainee(ctx context.Context, sessionID string, in TraineeInput, actorID string) (domain.Trainee, error) {
	in.LastName, in.FirstName = strings.TrimSpace(in.LastName), strings.TrimSpace(in.FirstName)
	if in.LastName == "" || in.FirstName == "" {
		return domain.Trainee{}, invalid("last_name and first_name are required")
	}
	in.Email = strings.TrimSpace(in.Email)
	if err := checkEmail(in.Email); err != nil {
		return domain.Trainee{}, err
	}
	var out domain.Trainee
	err := e.mutate(ctx, "add_trainee", actorID, func(store *domain.Store, c *change) error {
		s, _, err := locate(store, sessionID, "")
		if err != nil {
			return err
		}
		t := domain.Trainee{
			ID:                  newTraineeID(),
			LastName:            in.LastName,
			FirstName:           in.FirstName,
			Email:               in.Email,
			Phone:               strings.TrimSpace(in.Phone),
			Token:               newToken(),
			ConventionStatus:    domain.ConventionNotStarted,
			TestFrStatus:        domain.TestFrNotStarted,
			FundingStatus:       domain.FundingNotStarted,
			QualificationStatus: domain.QualificationNotApplicable,
			ClearanceStatus:     domain.ClearanceUnknown,
			AccommodationStatus: domain.AccommodationNotApplicable,
			Documents:           normalize.ReconcileSlots(nil, s.ProgramType),
			Deliverables:        map[string]string{},
			CreatedAt:           e.stamp(),
		}
		if s.ProgramType == catalog.QualificationProgram {
			t.QualificationStatus = domain.QualificationNotStarted
		}
		if s.ProgramType == catalog.VehicleEscortProgram {
			t.AccommodationStatus = domain.AccommodationUnknown
		}
		dossier.Refresh(&t, s.ProgramType)
		s.Trainees = append([]domain.Trainee{t}, s.Trainees...)
		c.emit(events.TraineeCreated, s.ID, "trainee", t.ID, events.EventPayload{
			"name":        t.FirstName + " " + t.LastName,
			"email":       t.Email,
			"portal_link": e.Config.PortalLink(t.Token),
		})
		out = t
		return nil
	})
	if err != nil {
		return domain.Trainee{}, err
	}
	return out, nil
}

func (e Engine) GetTrainee(ctx context.Context, sessionID, traineeID string) (domain.Trainee, error) {
	store, err := e.LoadCanonical(ctx)
	if err != nil {
		return domain.Trainee{}, err
	}
	_, t, err := locate(&store, sessionID, traineeID)
	if err != nil {
		return domain.Trainee{}, err
	}
	return *t, nil
}

// FindByToken resolves a capability token to its trainee and session.
func (e Engine) FindByToken(ctx context.Context, token string) (domain.Session, domain.Trainee, error) {
	store, err := e.LoadCanonical(ctx)
	if err != nil {
		return domain.Session{}, domain.Trainee{}, err
	}
	s, t, ok := store.FindByToken(strings.TrimSpace(token))
	if !ok {
		return domain.Session{}, domain.Trainee{}, notFound("token", "")
	}
	return *s, *t, nil
}

// TraineePatch holds optional trainee edits. The dossier status is derived
// and cannot be set.
type TraineePatch struct {
	LastName            *string
	FirstName           *string
	Email               *string
	Phone               *string
	ConventionStatus    *string
	TestFrStatus        *string
	FundingStatus       *string
	QualificationStatus *string
	ClearanceStatus     *string
	AccommodationStatus *string
	LicenseWaiver       *bool
	Comment             *string
}

func setStatus[S ~string](field string, in *string, dst *S, valid func(S) bool, fields events.EventPayload) error {
	if in == nil || S(*in) == *dst {
		return nil
	}
	next := S(strings.TrimSpace(*in))
	if !valid(next) {
		return invalid("%s %q is not a known status", field, *in)
	}
	*dst, fields[field] = next, next
	return nil
}

func (e Engine) UpdateTrainee(ctx context.Context, sessionID, traineeID string, p TraineePatch, actorID string) (domain.Trainee, error) {
	var out domain.Trainee
	err := e.mutate(ctx, "update_trainee", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		fields := events.EventPayload{}
		for _, f := range []struct {
			name     string
			in       *string
			dst      *string
			required bool
		}{
			{"last_name", p.LastName, &t.LastName, true},
			{"first_name", p.FirstName, &t.FirstName, true},
			{"email", p.Email, &t.Email, false},
			{"phone", p.Phone, &t.Phone, false},
			{"comment", p.Comment, &t.Comment, false},
		} {
			if f.in == nil {
				continue
			}
			v := *f.in
			if f.name != "comment" {
				v = strings.TrimSpace(v)
			}
			if f.required && v == "" {
				return invalid("%s is required", f.name)
			}
			if f.name == "email" {
				if err := checkEmail(v); err != nil {
					return err
				}
			}
			if v != *f.dst {
				*f.dst, fields[f.name] = v, v
			}
		}
		if err := setStatus("convention_status", p.ConventionStatus, &t.ConventionStatus, domain.ConventionStatus.Valid, fields); err != nil {
			return err
		}
		if err := setStatus("test_fr_status", p.TestFrStatus, &t.TestFrStatus, domain.TestFrStatus.Valid, fields); err != nil {
			return err
		}
		if err := setStatus("funding_status", p.FundingStatus, &t.FundingStatus, domain.FundingStatus.Valid, fields); err != nil {
			return err
		}
		if err := setStatus("qualification_status", p.QualificationStatus, &t.QualificationStatus, domain.QualificationStatus.Valid, fields); err != nil {
			return err
		}
		if err := setStatus("security_clearance_status", p.ClearanceStatus, &t.ClearanceStatus, domain.SecurityClearanceStatus.Valid, fields); err != nil {
			return err
		}
		if err := setStatus("accommodation_status", p.AccommodationStatus, &t.AccommodationStatus, domain.AccommodationStatus.Valid, fields); err != nil {
			return err
		}
		if p.LicenseWaiver != nil && *p.LicenseWaiver != t.LicenseWaiver {
			t.LicenseWaiver, fields["license_waiver"] = *p.LicenseWaiver, *p.LicenseWaiver
		}
		if len(fields) > 0 {
			c.emit(events.TraineeUpdated, s.ID, "trainee", t.ID, fields)
		}
		dossier.Refresh(t, s.ProgramType)
		out = *t
		return nil
	})
	if err != nil {
		return domain.Trainee{}, err
	}
	return out, nil
}

// DeleteTrainee removes a trainee and deletes their stored content.
func (e Engine) DeleteTrainee(ctx context.Context, sessionID, traineeID, actorID string) error {
	return e.mutate(ctx, "delete_trainee", actorID, func(store *domain.Store, c *change) error {
		s, _, err := locate(store, sessionID, "")
		if err != nil {
			return err
		}
		for i, t := range s.Trainees {
			if t.ID != traineeID {
				continue
			}
			discardTrainee(e, c, t)
			s.Trainees = append(s.Trainees[:i], s.Trainees[i+1:]...)
			c.emit(events.TraineeDeleted, s.ID, "trainee", t.ID, events.EventPayload{"name": t.FirstName + " " + t.LastName})
			return nil
		}
		return notFound("trainee", traineeID)
	})
}

// ProfileResult is the saved profile with validation feedback for every
// field still missing or malformed.
type ProfileResult struct {
	Profile       domain.Profile        `json:"profile"`
	Issues        []*dossier.FieldError `json:"issues"`
	DossierStatus domain.DossierStatus  `json:"dossier_status"`
}

// UpdateProfile saves the given fields even when some are invalid; invalid
// values are reported in the result rather than rejected.
func (e Engine) UpdateProfile(ctx context.Context, sessionID, traineeID string, values map[string]string, actorID string) (ProfileResult, error) {
	for field := range values {
		if _, ok := dossier.FieldValue(domain.Profile{}, field); !ok {
			return ProfileResult{}, invalid("unknown profile field %q", field)
		}
	}
	var out ProfileResult
	err := e.mutate(ctx, "update_profile", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		var changed []string
		for _, field := range dossier.ProfileFields() {
			v, ok := values[field]
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if cur, _ := dossier.FieldValue(t.Profile, field); cur == v {
				continue
			}
			dossier.SetFieldValue(&t.Profile, field, v)
			changed = append(changed, field)
		}
		issues := dossier.ValidateProfile(t.Profile)
		if len(changed) > 0 {
			invalidFields := make([]string, 0, len(issues))
			for _, fe := range issues {
				invalidFields = append(invalidFields, fe.Field)
			}
			c.emit(events.ProfileUpdated, s.ID, "trainee", t.ID, events.EventPayload{
				"fields": changed, "invalid": invalidFields,
			})
		}
		dossier.Refresh(t, s.ProgramType)
		out = ProfileResult{Profile: t.Profile, Issues: issues, DossierStatus: t.DossierStatus}
		return nil
	})
	if err != nil {
		return ProfileResult{}, err
	}
	if out.Issues == nil {
		out.Issues = []*dossier.FieldError{}
	}
	return out, nil
}

// SetDeliverable stores an end-of-training document and attaches it,
// replacing any earlier one of the same kind.
func (e Engine) SetDeliverable(ctx context.Context, sessionID, traineeID, kind, filename string, data []byte, actorID string) (domain.Trainee, error) {
	if !isDeliverableKind(kind) {
		return domain.Trainee{}, invalid("unknown deliverable kind %q", kind)
	}
	mime, _ := storage.Sniff(data)
	if err := catalog.Accepts(catalog.ClassDocument, filename, mime); err != nil {
		return domain.Trainee{}, err
	}
	path, err := e.Content.Store(ctx, data, filepath.Ext(filename))
	if err != nil {
		return domain.Trainee{}, err
	}
	ref, err := e.Tokenizer.Tokenize(path)
	if err != nil {
		e.dropUpload(ctx, path)
		return domain.Trainee{}, err
	}
	var out domain.Trainee
	err = e.mutate(ctx, "set_deliverable", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		if prev := t.Deliverables[kind]; prev != "" {
			c.discard(e, prev)
		}
		if t.Deliverables == nil {
			t.Deliverables = map[string]string{}
		}
		t.Deliverables[kind] = ref
		c.emit(events.DeliverableAttached, s.ID, "trainee", t.ID, events.EventPayload{"kind": kind, "file": ref})
		out = *t
		return nil
	})
	if err != nil {
		e.dropUpload(ctx, path)
		return domain.Trainee{}, err
	}
	return out, nil
}

func isDeliverableKind(kind string) bool {
	for _, k := range domain.DeliverableKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func (e Engine) dropUpload(ctx context.Context, path string) {
	if err := e.Content.Delete(context.WithoutCancel(ctx), path); err != nil {
		e.log().WithError(err).WithField("path", path).Warn("orphan upload not deleted")
	}
}
