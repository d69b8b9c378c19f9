package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	SessionCreated       = "session.created"
	SessionUpdated       = "session.updated"
	SessionArchived      = "session.archived"
	SessionDeleted       = "session.deleted"
	TraineeCreated       = "trainee.created"
	TraineeUpdated       = "trainee.updated"
	TraineeDeleted       = "trainee.deleted"
	ProfileUpdated       = "profile.updated"
	DocumentSubmitted    = "document.submitted"
	DocumentReviewed     = "document.reviewed"
	DocumentCleared      = "document.cleared"
	DeliverableAttached  = "deliverable.attached"
	DossierStatusChanged = "dossier.status_changed"
	StoreNormalized      = "store.normalized"
	StoreImported        = "store.imported"
)

// Types lists every event type in emission order of a trainee's lifecycle.
func Types() []string {
	return []string{
		SessionCreated, SessionUpdated, SessionArchived, SessionDeleted,
		TraineeCreated, TraineeUpdated, TraineeDeleted, ProfileUpdated,
		DocumentSubmitted, DocumentReviewed, DocumentCleared, DeliverableAttached,
		DossierStatusChanged, StoreNormalized, StoreImported,
	}
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, sessionID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(sessionID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
