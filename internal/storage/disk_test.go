package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/fileref"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestStoreAndDelete(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir(), 1024)
	require.NoError(t, err)

	path, err := d.Store(ctx, pngHeader, "PNG")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".png"))
	assert.True(t, strings.HasPrefix(path, d.Root()))

	ref, err := d.Tokenizer().Tokenize(path)
	require.NoError(t, err)
	back, err := d.Tokenizer().Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, path, back)

	mime, err := SniffFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	require.NoError(t, d.Delete(ctx, path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, d.Delete(ctx, path), "deleting twice is fine")

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreRejectsOversize(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 4)
	require.NoError(t, err)
	_, err = d.Store(context.Background(), []byte("12345"), ".pdf")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDeleteOutsideRoot(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 0)
	require.NoError(t, err)
	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	assert.ErrorIs(t, d.Delete(context.Background(), outside), fileref.ErrInvalidReference)
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestSniff(t *testing.T) {
	mime, ext := Sniff([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"))
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, ".pdf", ext)
}
