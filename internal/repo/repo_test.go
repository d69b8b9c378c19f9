package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/db"
	"dossierline/internal/domain"
	"dossierline/internal/events"
	"dossierline/internal/migrate"
)

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func write(t *testing.T, r Repo, payload string, expected int64) (int64, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	rev, err := r.WriteSnapshotTx(ctx, tx, []byte(payload), expected, "2025-01-01T00:00:00Z")
	if err != nil {
		return 0, err
	}
	require.NoError(t, tx.Commit())
	return rev, nil
}

func TestSnapshotRevisions(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	_, err := r.ReadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	rev, err := write(t, r, `{"sessions":[]}`, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	_, err = write(t, r, `{"sessions":[1]}`, 0)
	assert.ErrorIs(t, err, domain.ErrConflict)

	rev, err = write(t, r, `{"sessions":[2]}`, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	_, err = write(t, r, `{"sessions":[3]}`, 1)
	assert.ErrorIs(t, err, domain.ErrConflict)

	snap, err := r.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Revision)
	assert.JSONEq(t, `{"sessions":[2]}`, string(snap.Payload))
}

func TestBackups(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.BackupSnapshotTx(ctx, tx, domain.Snapshot{Payload: []byte("{broken"), Revision: 4}, "corrupt", "2025-01-01T00:00:00Z"))
	require.NoError(t, tx.Commit())

	list, err := r.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(7), list[0].Size)

	b, payload, err := r.GetBackup(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "corrupt", b.Reason)
	assert.Equal(t, "{broken", string(payload))

	_, _, err = r.GetBackup(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventsCursor(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	w := events.Writer{}
	appendAll := func(tx *sql.Tx) {
		require.NoError(t, w.Append(ctx, tx, events.SessionCreated, "s1", "session", "s1", "admin", nil))
		require.NoError(t, w.Append(ctx, tx, events.TraineeCreated, "s1", "trainee", "t1", "admin", events.EventPayload{"name": "x"}))
		require.NoError(t, w.Append(ctx, tx, events.SessionCreated, "s2", "session", "s2", "admin", nil))
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	appendAll(tx)
	require.NoError(t, tx.Commit())

	all, err := r.EventsAfter(ctx, 0, 0, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events.SessionCreated, all[0].Type)

	after, err := r.EventsAfter(ctx, 10, all[0].ID, EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "t1", after[0].EntityID)
	assert.JSONEq(t, `{"name":"x"}`, after[0].Payload)

	latest, err := r.LatestEvents(ctx, 10, 0, EventFilter{Type: events.SessionCreated})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "s2", latest[0].SessionID)

	id, err := r.LatestEventID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, all[1].ID, id)
	id, err = r.LatestEventID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, all[2].ID, id)
}

func TestAPIKeys(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	key, plain, err := r.CreateAPIKey(ctx, "secretariat", "front desk", "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.NotContains(t, key.KeyHash, plain)

	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, "secretariat", got.ActorID)

	_, _, err = r.CreateAPIKey(ctx, " ", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	list, err := r.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, key.ID))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, key.ID), ErrNotFound)
	_, err = r.GetAPIKeyByHash(ctx, HashAPIKey(plain))
	assert.ErrorIs(t, err, ErrNotFound)
}
