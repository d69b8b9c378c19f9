package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/events"
	"dossierline/internal/storage"
)

// SlotResult is a slot after a document operation and the trainee's
// dossier status recomputed with it.
type SlotResult struct {
	Slot          domain.DocumentSlot  `json:"slot"`
	DossierStatus domain.DossierStatus `json:"dossier_status"`
}

type Upload struct {
	Filename string
	Data     []byte
}

// documentDefinition checks key against the catalog of the trainee's session.
func (e Engine) documentDefinition(ctx context.Context, sessionID, traineeID, key string) (catalog.DocumentDefinition, error) {
	store, err := e.LoadCanonical(ctx)
	if err != nil {
		return catalog.DocumentDefinition{}, err
	}
	s, _, err := locate(&store, sessionID, traineeID)
	if err != nil {
		return catalog.DocumentDefinition{}, err
	}
	return catalog.Lookup(s.ProgramType, key)
}

func slotOf(s *domain.Session, t *domain.Trainee, key string) (*domain.DocumentSlot, error) {
	if _, err := catalog.Lookup(s.ProgramType, key); err != nil {
		return nil, err
	}
	slot, ok := t.Slot(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s slot", catalog.ErrUnknownDocumentKey, t.ID, key)
	}
	return slot, nil
}

func result(s *domain.Session, t *domain.Trainee, slot *domain.DocumentSlot) SlotResult {
	dossier.Refresh(t, s.ProgramType)
	out := *slot
	out.Files = append([]string{}, slot.Files...)
	return SlotResult{Slot: out, DossierStatus: t.DossierStatus}
}

// SubmitDocument stores the upload and appends it to the slot. The stored
// content is removed again if the record cannot be written.
func (e Engine) SubmitDocument(ctx context.Context, sessionID, traineeID, key string, up Upload, actorID string) (SlotResult, error) {
	def, err := e.documentDefinition(ctx, sessionID, traineeID, key)
	if err != nil {
		return SlotResult{}, err
	}
	if len(up.Data) == 0 {
		return SlotResult{}, invalid("empty upload")
	}
	mime, _ := storage.Sniff(up.Data)
	if err := catalog.Accepts(def.ContentClass, up.Filename, mime); err != nil {
		return SlotResult{}, err
	}
	path, err := e.Content.Store(ctx, up.Data, filepath.Ext(up.Filename))
	if err != nil {
		return SlotResult{}, err
	}
	ref, err := e.Tokenizer.Tokenize(path)
	if err != nil {
		e.dropUpload(ctx, path)
		return SlotResult{}, err
	}
	var out SlotResult
	err = e.mutate(ctx, "submit_document", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		slot, err := slotOf(s, t, key)
		if err != nil {
			return err
		}
		dossier.Submit(slot, ref)
		c.emit(events.DocumentSubmitted, s.ID, "trainee", t.ID, events.EventPayload{
			"key": key, "file": ref, "mime": mime, "status": slot.Status, "files": len(slot.Files),
		})
		out = result(s, t, slot)
		return nil
	})
	if err != nil {
		e.dropUpload(ctx, path)
		return SlotResult{}, err
	}
	e.Metrics.DocumentSubmitted(key)
	e.log().WithFields(logrus.Fields{"session": sessionID, "trainee": traineeID, "key": key, "file": ref}).Info("document submitted")
	return out, nil
}

// ReviewDocument records a reviewer verdict on a submitted slot.
func (e Engine) ReviewDocument(ctx context.Context, sessionID, traineeID, key, verdict, comment, actorID string) (SlotResult, error) {
	v := domain.DocumentStatus(strings.TrimSpace(verdict))
	var out SlotResult
	err := e.mutate(ctx, "review_document", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		slot, err := slotOf(s, t, key)
		if err != nil {
			return err
		}
		prev := slot.Status
		if err := dossier.Review(slot, v, comment); err != nil {
			return err
		}
		c.emit(events.DocumentReviewed, s.ID, "trainee", t.ID, events.EventPayload{
			"key": key, "from": prev, "to": slot.Status, "comment": comment,
		})
		out = result(s, t, slot)
		return nil
	})
	if err != nil {
		return SlotResult{}, err
	}
	return out, nil
}

// ClearDocument resets a slot. Its stored files are deleted after the write.
func (e Engine) ClearDocument(ctx context.Context, sessionID, traineeID, key, actorID string) (SlotResult, error) {
	var out SlotResult
	err := e.mutate(ctx, "clear_document", actorID, func(store *domain.Store, c *change) error {
		s, t, err := locate(store, sessionID, traineeID)
		if err != nil {
			return err
		}
		slot, err := slotOf(s, t, key)
		if err != nil {
			return err
		}
		if slot.Status == domain.DocumentNotSubmitted && len(slot.Files) == 0 && slot.Comment == "" {
			out = result(s, t, slot)
			return nil
		}
		removed := dossier.Clear(slot)
		c.discard(e, removed...)
		c.emit(events.DocumentCleared, s.ID, "trainee", t.ID, events.EventPayload{"key": key, "files": removed})
		out = result(s, t, slot)
		return nil
	})
	if err != nil {
		return SlotResult{}, err
	}
	return out, nil
}

// DocumentFile resolves the index-th file of a slot to a path under the
// storage root.
func (e Engine) DocumentFile(ctx context.Context, sessionID, traineeID, key string, index int) (string, error) {
	t, err := e.GetTrainee(ctx, sessionID, traineeID)
	if err != nil {
		return "", err
	}
	slot, ok := t.Slot(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", catalog.ErrUnknownDocumentKey, key)
	}
	if index < 0 || index >= len(slot.Files) {
		return "", notFound("file", fmt.Sprintf("%s[%d]", key, index))
	}
	return e.Tokenizer.Resolve(slot.Files[index])
}

// DeliverableFile resolves an attached deliverable.
func (e Engine) DeliverableFile(ctx context.Context, sessionID, traineeID, kind string) (string, error) {
	t, err := e.GetTrainee(ctx, sessionID, traineeID)
	if err != nil {
		return "", err
	}
	ref := t.Deliverables[kind]
	if ref == "" {
		return "", notFound("deliverable", kind)
	}
	return e.Tokenizer.Resolve(ref)
}
