package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/events"
	"dossierline/internal/normalize"
)

const dateLayout = "2006-01-02"

// SessionSummary is a session without its trainees, plus its live report.
type SessionSummary struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	ProgramType catalog.ProgramType   `json:"program_type"`
	StartDate   string                `json:"start_date"`
	EndDate     string                `json:"end_date"`
	ExamDate    string                `json:"exam_date"`
	Archived    bool                  `json:"archived"`
	CreatedAt   string                `json:"created_at"`
	Report      dossier.SessionReport `json:"report"`
}

func summarize(s domain.Session) SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		Name:        s.Name,
		ProgramType: s.ProgramType,
		StartDate:   s.StartDate,
		EndDate:     s.EndDate,
		ExamDate:    s.ExamDate,
		Archived:    s.Archived,
		CreatedAt:   s.CreatedAt,
		Report:      dossier.EvaluateSession(s),
	}
}

// ListSessions returns sessions newest first.
func (e Engine) ListSessions(ctx context.Context, includeArchived bool) ([]SessionSummary, error) {
	store, err := e.LoadCanonical(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(store.Sessions))
	for _, s := range store.Sessions {
		if s.Archived && !includeArchived {
			continue
		}
		out = append(out, summarize(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	store, err := e.LoadCanonical(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	s, ok := store.Session(id)
	if !ok {
		return domain.Session{}, notFound("session", id)
	}
	return *s, nil
}

type SessionInput struct {
	Name        string
	ProgramType string
	StartDate   string
	EndDate     string
	ExamDate    string
}

func checkDate(field, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, v); err != nil {
		return invalid("%s must be YYYY-MM-DD, got %q", field, v)
	}
	return nil
}

func parseProgram(v string) (catalog.ProgramType, error) {
	pt, err := catalog.ParseProgramType(v)
	if err != nil {
		return "", invalid("%v", err)
	}
	return pt, nil
}

func (in SessionInput) validate() (catalog.ProgramType, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", invalid("name is required")
	}
	pt, err := parseProgram(in.ProgramType)
	if err != nil {
		return "", err
	}
	for field, v := range map[string]string{"start_date": in.StartDate, "end_date": in.EndDate, "exam_date": in.ExamDate} {
		if err := checkDate(field, v); err != nil {
			return "", err
		}
	}
	return pt, nil
}

func (e Engine) CreateSession(ctx context.Context, in SessionInput, actorID string) (domain.Session, error) {
	pt, err := in.validate()
	if err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		ID:          newSessionID(),
		Name:        strings.TrimSpace(in.Name),
		ProgramType: pt,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		ExamDate:    in.ExamDate,
		CreatedAt:   e.stamp(),
		Trainees:    []domain.Trainee{},
	}
	err = e.mutate(ctx, "create_session", actorID, func(store *domain.Store, c *change) error {
		store.Sessions = append(store.Sessions, s)
		c.emit(events.SessionCreated, s.ID, "session", s.ID, events.EventPayload{
			"name": s.Name, "program_type": s.ProgramType,
		})
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// SessionPatch holds optional session edits; nil fields are left alone.
type SessionPatch struct {
	Name        *string
	ProgramType *string
	StartDate   *string
	EndDate     *string
	ExamDate    *string
}

// UpdateSession edits a session. A program change rebuilds every trainee's
// slots for the new catalog and discards content of slots no longer required.
func (e Engine) UpdateSession(ctx context.Context, id string, p SessionPatch, actorID string) (domain.Session, error) {
	var out domain.Session
	err := e.mutate(ctx, "update_session", actorID, func(store *domain.Store, c *change) error {
		s, _, err := locate(store, id, "")
		if err != nil {
			return err
		}
		fields := events.EventPayload{}
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return invalid("name is required")
			}
			if name != s.Name {
				s.Name, fields["name"] = name, name
			}
		}
		for _, d := range []struct {
			field string
			in    *string
			dst   *string
		}{
			{"start_date", p.StartDate, &s.StartDate},
			{"end_date", p.EndDate, &s.EndDate},
			{"exam_date", p.ExamDate, &s.ExamDate},
		} {
			if d.in == nil || *d.in == *d.dst {
				continue
			}
			if err := checkDate(d.field, *d.in); err != nil {
				return err
			}
			*d.dst, fields[d.field] = *d.in, *d.in
		}
		if p.ProgramType != nil {
			pt, err := parseProgram(*p.ProgramType)
			if err != nil {
				return err
			}
			if pt != s.ProgramType {
				fields["program_type"] = pt
				fields["previous_program_type"] = s.ProgramType
				e.changeProgram(s, pt, c)
			}
		}
		if len(fields) > 0 {
			c.emit(events.SessionUpdated, s.ID, "session", s.ID, fields)
		}
		out = *s
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

func (e Engine) changeProgram(s *domain.Session, pt catalog.ProgramType, c *change) {
	s.ProgramType = pt
	for i := range s.Trainees {
		t := &s.Trainees[i]
		next := normalize.ReconcileSlots(t.Documents, pt)
		for _, old := range t.Documents {
			if _, kept := findSlot(next, old.Key); !kept {
				c.discard(e, old.Files...)
			}
		}
		t.Documents = next
		switch {
		case pt == catalog.QualificationProgram && t.QualificationStatus == domain.QualificationNotApplicable:
			t.QualificationStatus = domain.QualificationNotStarted
		case pt != catalog.QualificationProgram:
			t.QualificationStatus = domain.QualificationNotApplicable
		}
		switch {
		case pt == catalog.VehicleEscortProgram && t.AccommodationStatus == domain.AccommodationNotApplicable:
			t.AccommodationStatus = domain.AccommodationUnknown
		case pt != catalog.VehicleEscortProgram:
			t.AccommodationStatus = domain.AccommodationNotApplicable
		}
		dossier.Refresh(t, pt)
	}
}

func findSlot(slots []domain.DocumentSlot, key string) (int, bool) {
	for i, s := range slots {
		if s.Key == key {
			return i, true
		}
	}
	return -1, false
}

func (e Engine) ArchiveSession(ctx context.Context, id string, archived bool, actorID string) (domain.Session, error) {
	var out domain.Session
	err := e.mutate(ctx, "archive_session", actorID, func(store *domain.Store, c *change) error {
		s, _, err := locate(store, id, "")
		if err != nil {
			return err
		}
		if s.Archived != archived {
			s.Archived = archived
			c.emit(events.SessionArchived, s.ID, "session", s.ID, events.EventPayload{"archived": archived})
		}
		out = *s
		return nil
	})
	return out, err
}

// DeleteSession removes a session with its trainees and their stored content.
func (e Engine) DeleteSession(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, "delete_session", actorID, func(store *domain.Store, c *change) error {
		for i, s := range store.Sessions {
			if s.ID != id {
				continue
			}
			for _, t := range s.Trainees {
				discardTrainee(e, c, t)
			}
			store.Sessions = append(store.Sessions[:i], store.Sessions[i+1:]...)
			c.emit(events.SessionDeleted, id, "session", id, events.EventPayload{
				"name": s.Name, "trainees": len(s.Trainees),
			})
			return nil
		}
		return notFound("session", id)
	})
}

func discardTrainee(e Engine, c *change, t domain.Trainee) {
	for _, slot := range t.Documents {
		c.discard(e, slot.Files...)
	}
	for _, ref := range t.Deliverables {
		c.discard(e, ref)
	}
}

// ArchiveExpired archives open sessions whose last date (end or exam) is more
// than graceDays before now. Sessions without a parseable date are kept.
func (e Engine) ArchiveExpired(ctx context.Context, now time.Time, graceDays int, actorID string) ([]string, error) {
	cutoff := now.AddDate(0, 0, -graceDays)
	var archived []string
	err := e.mutate(ctx, "archive_expired", actorID, func(store *domain.Store, c *change) error {
		for i := range store.Sessions {
			s := &store.Sessions[i]
			if s.Archived {
				continue
			}
			last, ok := lastDate(*s)
			if !ok || !last.Before(cutoff) {
				continue
			}
			s.Archived = true
			archived = append(archived, s.ID)
			c.emit(events.SessionArchived, s.ID, "session", s.ID, events.EventPayload{
				"archived": true, "automatic": true, "last_date": last.Format(dateLayout),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

func lastDate(s domain.Session) (time.Time, bool) {
	var last time.Time
	for _, v := range []string{s.EndDate, s.ExamDate} {
		d, err := time.Parse(dateLayout, v)
		if err == nil && d.After(last) {
			last = d
		}
	}
	return last, !last.IsZero()
}
