package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"dossierline/internal/catalog"
	"dossierline/internal/config"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/events"
	"dossierline/internal/fileref"
	"dossierline/internal/metrics"
	"dossierline/internal/normalize"
	"dossierline/internal/repo"
)

// ContentStore persists uploaded bytes and returns their absolute location.
type ContentStore interface {
	Store(ctx context.Context, data []byte, ext string) (string, error)
	Delete(ctx context.Context, path string) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Tokenizer fileref.Tokenizer
	Content   ContentStore
	Log       logrus.FieldLogger
	Metrics   *metrics.Metrics
	Now       func() time.Time

	// shared by every copy of the engine value
	writeMu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, tok fileref.Tokenizer, content ContentStore) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{},
		Config:    cfg,
		Tokenizer: tok,
		Content:   content,
		Log:       logrus.StandardLogger(),
		Now:       time.Now,
		writeMu:   &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// loaded is a decoded snapshot plus what is needed to write it back.
type loaded struct {
	store    domain.Store
	snap     domain.Snapshot
	exists   bool
	corrupt  bool
	changed  bool
	baseline []byte
}

func (e Engine) load(ctx context.Context) (loaded, error) {
	var l loaded
	snap, err := e.Repo.ReadSnapshot(ctx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return l, fmt.Errorf("read store: %w", err)
	default:
		l.snap, l.exists = snap, true
		l.corrupt = !gjson.ValidBytes(snap.Payload)
	}
	n := normalize.Normalizer{Tokenizer: &e.Tokenizer}
	l.store, l.changed = n.Store(l.snap.Payload)
	if !l.exists {
		l.changed = false
	}
	l.baseline, err = json.Marshal(l.store)
	if err != nil {
		return l, err
	}
	return l, nil
}

// LoadCanonical returns the normalized store. It never writes.
func (e Engine) LoadCanonical(ctx context.Context) (domain.Store, error) {
	l, err := e.load(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	if l.corrupt {
		e.log().WithField("revision", l.snap.Revision).Warn("stored payload is not valid JSON; serving an empty store")
	}
	return l.store, nil
}

type pendingEvent struct {
	typ, sessionID, kind, id string
	payload                  events.EventPayload
}

// change collects what a mutation did besides editing the store.
type change struct {
	actorID string
	events  []pendingEvent
	// absolute paths removed after commit
	cleanup []string
}

func (c *change) emit(typ, sessionID, kind, id string, payload events.EventPayload) {
	c.events = append(c.events, pendingEvent{typ: typ, sessionID: sessionID, kind: kind, id: id, payload: payload})
}

// discard queues stored references for deletion once the write commits.
func (c *change) discard(e Engine, refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		path, err := e.Tokenizer.Resolve(ref)
		if err != nil {
			e.log().WithError(err).WithField("ref", ref).Warn("not deleting unresolvable reference")
			continue
		}
		c.cleanup = append(c.cleanup, path)
	}
}

// mutate runs fn against the freshly loaded store and persists the result in
// one transaction with its events. Nothing is written when fn leaves the
// canonical store unchanged.
func (e Engine) mutate(ctx context.Context, op, actorID string, fn func(s *domain.Store, c *change) error) (err error) {
	defer func() { e.Metrics.RecordMutation(op, err) }()
	if e.writeMu != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	l, err := e.load(ctx)
	if err != nil {
		return err
	}
	// identity alone is not worth a write; it rides along with a real change
	e.assignIdentity(&l.store)
	if l.baseline, err = json.Marshal(l.store); err != nil {
		return err
	}
	before := dossierStatuses(l.store)
	c := &change{actorID: actorID}
	if err := fn(&l.store, c); err != nil {
		return err
	}
	e.assignIdentity(&l.store)
	e.refreshDossiers(&l.store, before, c)

	payload, err := json.Marshal(l.store)
	if err != nil {
		return err
	}
	if bytes.Equal(payload, l.baseline) && len(c.events) == 0 {
		return nil
	}
	if err := e.write(ctx, l, payload, c); err != nil {
		return err
	}
	if l.changed {
		e.Metrics.Normalized()
	}
	for _, ev := range c.events {
		if ev.typ != events.DossierStatusChanged {
			continue
		}
		e.Metrics.DossierTransition(fmt.Sprint(ev.payload["to"]))
		e.log().WithFields(logrus.Fields{
			"session": ev.sessionID, "trainee": ev.id, "from": ev.payload["from"], "to": ev.payload["to"],
		}).Info("dossier status changed")
	}
	for _, path := range c.cleanup {
		if err := e.Content.Delete(ctx, path); err != nil {
			e.log().WithError(err).WithField("path", path).Warn("stored content not deleted")
		}
	}
	return nil
}

func (e Engine) write(ctx context.Context, l loaded, payload []byte, c *change) error {
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if l.corrupt {
		if err := e.Repo.BackupSnapshotTx(ctx, tx, l.snap, "corrupt", now); err != nil {
			return err
		}
		e.log().WithField("revision", l.snap.Revision).Warn("corrupt payload backed up before overwrite")
	}
	if _, err := e.Repo.WriteSnapshotTx(ctx, tx, payload, l.snap.Revision, now); err != nil {
		return err
	}
	for _, ev := range c.events {
		if err := e.Events.Append(ctx, tx, ev.typ, ev.sessionID, ev.kind, ev.id, c.actorID, ev.payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func traineeKey(sessionID, traineeID string) string { return sessionID + "/" + traineeID }

func dossierStatuses(s domain.Store) map[string]domain.DossierStatus {
	out := map[string]domain.DossierStatus{}
	for _, sess := range s.Sessions {
		for _, t := range sess.Trainees {
			if t.ID != "" {
				out[traineeKey(sess.ID, t.ID)] = t.DossierStatus
			}
		}
	}
	return out
}

// refreshDossiers recomputes every dossier status and reports transitions of
// trainees that existed before the mutation.
func (e Engine) refreshDossiers(s *domain.Store, before map[string]domain.DossierStatus, c *change) {
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		for j := range sess.Trainees {
			t := &sess.Trainees[j]
			dossier.Refresh(t, sess.ProgramType)
			prev, ok := before[traineeKey(sess.ID, t.ID)]
			if !ok || prev == t.DossierStatus {
				continue
			}
			c.emit(events.DossierStatusChanged, sess.ID, "trainee", t.ID, events.EventPayload{
				"from": prev, "to": t.DossierStatus,
			})
		}
	}
}

// assignIdentity gives ids and capability tokens to records migrated without
// them. Duplicate tokens are reissued so a token names exactly one trainee.
func (e Engine) assignIdentity(s *domain.Store) {
	tokens := map[string]bool{}
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		if strings.TrimSpace(sess.ID) == "" {
			sess.ID = newSessionID()
		}
		for j := range sess.Trainees {
			t := &sess.Trainees[j]
			if strings.TrimSpace(t.ID) == "" {
				t.ID = newTraineeID()
			}
			if strings.TrimSpace(t.Token) == "" || tokens[t.Token] {
				t.Token = newToken()
			}
			tokens[t.Token] = true
		}
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func newTraineeID() string {
	return "STG-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func newToken() string {
	return uuid.NewString()
}

// NormalizeStore rewrites a legacy or non-canonical payload in canonical form.
func (e Engine) NormalizeStore(ctx context.Context, actorID string) (bool, error) {
	if e.writeMu != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	l, err := e.load(ctx)
	if err != nil || !l.exists {
		return false, err
	}
	c := &change{actorID: actorID}
	e.assignIdentity(&l.store)
	payload, err := json.Marshal(l.store)
	if err != nil {
		return false, err
	}
	if !l.changed && bytes.Equal(payload, l.baseline) {
		return false, nil
	}
	c.emit(events.StoreNormalized, "", "store", "", events.EventPayload{
		"from_revision": l.snap.Revision, "corrupt": l.corrupt, "sessions": len(l.store.Sessions),
	})
	if err := e.write(ctx, l, payload, c); err != nil {
		return false, err
	}
	e.Metrics.Normalized()
	e.log().WithField("sessions", len(l.store.Sessions)).Info("store normalized")
	return true, nil
}

// ImportStore replaces the stored payload verbatim; it is normalized on read.
// The previous payload is kept as a backup.
func (e Engine) ImportStore(ctx context.Context, raw []byte, actorID string) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: import is not valid JSON", domain.ErrInvalidArgument)
	}
	if e.writeMu != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	snap, err := e.Repo.ReadSnapshot(ctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if snap.Payload != nil {
		if err := e.Repo.BackupSnapshotTx(ctx, tx, snap, "import", now); err != nil {
			return err
		}
	}
	if _, err := e.Repo.WriteSnapshotTx(ctx, tx, raw, snap.Revision, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.StoreImported, "", "store", "", actorID, events.EventPayload{"bytes": len(raw)}); err != nil {
		return err
	}
	return tx.Commit()
}

// Events lists recorded events newest first.
func (e Engine) ListEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, cursor, f)
}

func (e Engine) RequiredDocuments(pt catalog.ProgramType) []catalog.DocumentDefinition {
	return catalog.RequiredDocuments(pt)
}

func (e Engine) EvaluateDossier(t domain.Trainee, pt catalog.ProgramType) bool {
	return dossier.IsComplete(t, pt)
}

func (e Engine) EvaluateSession(s domain.Session) dossier.SessionReport {
	return dossier.EvaluateSession(s)
}

func (e Engine) Tokenize(path string) (string, error) { return e.Tokenizer.Tokenize(path) }

func (e Engine) Resolve(ref string) (string, error) { return e.Tokenizer.Resolve(ref) }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func locate(s *domain.Store, sessionID, traineeID string) (*domain.Session, *domain.Trainee, error) {
	sess, ok := s.Session(sessionID)
	if !ok {
		return nil, nil, notFound("session", sessionID)
	}
	if traineeID == "" {
		return sess, nil, nil
	}
	t, ok := sess.Trainee(traineeID)
	if !ok {
		return nil, nil, notFound("trainee", traineeID)
	}
	return sess, t, nil
}
