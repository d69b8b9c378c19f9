package fileref

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenizer(t *testing.T) Tokenizer {
	t.Helper()
	tok, err := New(t.TempDir())
	require.NoError(t, err)
	return tok
}

func TestResolveRejectsEscapes(t *testing.T) {
	tok := newTokenizer(t)
	for _, ref := range []string{
		"../../etc/passwd",
		"/etc/passwd",
		`\etc\passwd`,
		`..\..\windows\win.ini`,
		"a/../../b",
		"uploads/../..",
		"C:/Windows",
		"",
		"   ",
		"a\x00b",
		".",
	} {
		_, err := tok.Resolve(ref)
		assert.ErrorIs(t, err, ErrInvalidReference, "ref %q", ref)
	}
}

func TestRoundTrip(t *testing.T) {
	tok := newTokenizer(t)
	for _, rel := range []string{"a.pdf", "2025/01/x.png", "trainee/STG-1/id.jpg"} {
		p := filepath.Join(tok.Root(), filepath.FromSlash(rel))
		ref, err := tok.Tokenize(p)
		require.NoError(t, err)
		assert.Equal(t, rel, ref)
		back, err := tok.Resolve(ref)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}
}

func TestResolveStaysUnderRoot(t *testing.T) {
	tok := newTokenizer(t)
	p, err := tok.Resolve("./nested/./file.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tok.Root(), "nested", "file.pdf"), p)
}

func TestTokenizeOutsideRoot(t *testing.T) {
	tok := newTokenizer(t)
	_, err := tok.Tokenize(filepath.Join(filepath.Dir(tok.Root()), "other", "f.pdf"))
	assert.ErrorIs(t, err, ErrInvalidReference)
	_, err = tok.Tokenize(tok.Root())
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestResolveConcurrent(t *testing.T) {
	tok := newTokenizer(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tok.Resolve("x/y.pdf")
			assert.NoError(t, err)
			_, err = tok.Resolve("../y.pdf")
			assert.Error(t, err)
		}()
	}
	wg.Wait()
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
