package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "uploads", cfg.Storage.Root)
	assert.Equal(t, int64(10<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, 30, cfg.Archive.GraceDays)
}

func TestFromYAMLMergesOverDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
portal:
  base_url: https://dossiers.example.com/
archive:
  enabled: true
  schedule: "0 3 * * *"
webhooks:
  - url: https://hooks.example.com/in
    events: [dossier.status_changed]
`))
	require.NoError(t, err)
	assert.Equal(t, "uploads", cfg.Storage.Root)
	assert.Equal(t, "https://dossiers.example.com/portal/abc", cfg.PortalLink("abc"))
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"dossier.status_changed"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"schedule":  "archive:\n  enabled: true\n  schedule: every tuesday\n",
		"base path": "server:\n  base_path: v1\n",
		"portal":    "portal:\n  base_url: not a url\n",
		"level":     "log:\n  level: loud\n",
		"webhook":   "webhooks:\n  - url: \"\"\n",
		"upload":    "storage:\n  max_upload_bytes: 0\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(Path(dir), []byte("storage:\n  root: /srv/files\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.StorageRoot(dir))

	cfg.Storage.Root = "files"
	assert.Equal(t, filepath.Join(dir, "files"), cfg.StorageRoot(dir))
}
