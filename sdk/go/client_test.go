package dossierlinesdk

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/engine"
	"dossierline/internal/migrate"
	"dossierline/internal/server"
	"dossierline/internal/storage"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	cfg := config.Default()
	disk, err := storage.NewDisk(filepath.Join(dir, "uploads"), cfg.Storage.MaxUploadBytes)
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	e := engine.New(conn, cfg, disk.Tokenizer(), disk)
	e.Log = logger
	h, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}, Logger: logger})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDrivesADossierToConformity(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	token, err := server.SignToken("sdk-secret", "office@example.com", time.Hour, time.Now())
	require.NoError(t, err)
	admin := New(srv.URL)
	admin.BearerToken = token
	portal := New(srv.URL)

	s, err := admin.CreateSession(ctx, "APS mars", "APS", "2025-03-03", "2025-04-11", "")
	require.NoError(t, err)
	tr, err := admin.AddTrainee(ctx, s.ID, "Martin", "Léa", "lea@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, tr.Token)

	view, err := portal.Portal(ctx, tr.Token)
	require.NoError(t, err)
	assert.Equal(t, "incomplete", view.Trainee.DossierStatus)
	assert.Len(t, view.Trainee.Documents, 4)

	for _, slot := range view.Trainee.Documents {
		name, data := "scan.pdf", pdfBytes
		if slot.Key == "id_photo" {
			name, data = "photo.jpg", jpegBytes
		}
		res, err := portal.PortalUpload(ctx, tr.Token, slot.Key, name, bytes.NewReader(data))
		require.NoError(t, err, slot.Key)
		assert.Equal(t, "under_review", res.Slot.Status)
		_, err = admin.ReviewDocument(ctx, s.ID, tr.ID, slot.Key, "compliant", "")
		require.NoError(t, err, slot.Key)
	}

	prof, err := portal.PortalSaveProfile(ctx, tr.Token, map[string]string{
		"birth_date":              "1990-04-12",
		"birth_city":              "Marseille",
		"birth_country":           "France",
		"nationality":             "française",
		"address":                 "12 rue de la République",
		"postal_code":             "83000",
		"city":                    "Toulon",
		"health_insurance_number": "1 90 04 13 055 123 45",
		"pre_number":              "PRE-083-2025-01-15-20250000001",
	})
	require.NoError(t, err)
	assert.Empty(t, prof.Issues)
	assert.Equal(t, "complete", prof.DossierStatus)

	got, err := admin.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Report.SessionConform)

	_, err = admin.UpdateTrainee(ctx, s.ID, tr.ID, map[string]any{
		"convention_status": "signed",
		"test_fr_status":    "validated",
		"funding_status":    "validated",
	})
	require.NoError(t, err)
	got, err = admin.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 1, ConformCount: 1, SessionConform: true}, got.Report)

	file, err := admin.DownloadDocument(ctx, s.ID, tr.ID, "id_photo", 0)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, file)

	page, err := admin.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, err := New(srv.URL).GetSession(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)

	_, err = New(srv.URL).Portal(ctx, "no-such-token")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}
