// Package fileref converts stored-content locations into portable references
// and back. Resolve is the only way a caller-supplied reference becomes a
// filesystem path, and it never yields a path outside the storage root.
package fileref

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrInvalidReference = errors.New("invalid file reference")

// Tokenizer is immutable once built; share it freely between goroutines.
type Tokenizer struct {
	root string
}

// New returns a tokenizer rooted at root. The root is cleaned and, when
// possible, made absolute.
func New(root string) (Tokenizer, error) {
	if strings.TrimSpace(root) == "" {
		return Tokenizer{}, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Tokenizer{}, fmt.Errorf("storage root: %w", err)
	}
	return Tokenizer{root: abs}, nil
}

// Root returns the storage root.
func (t Tokenizer) Root() string { return t.root }

// Tokenize returns the slash-separated path of storagePath relative to the root.
func (t Tokenizer) Tokenize(storagePath string) (string, error) {
	if t.root == "" {
		return "", errors.New("tokenizer not initialised")
	}
	p := storagePath
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.root, p)
	}
	rel, err := filepath.Rel(t.root, filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if escapes(rel) {
		return "", fmt.Errorf("%w: %s is outside the storage root", ErrInvalidReference, storagePath)
	}
	return filepath.ToSlash(rel), nil
}

// Resolve maps a reference back to a path under the root.
func (t Tokenizer) Resolve(ref string) (string, error) {
	if t.root == "" {
		return "", errors.New("tokenizer not initialised")
	}
	if err := checkReference(ref); err != nil {
		return "", err
	}
	normalized := strings.ReplaceAll(ref, `\`, "/")
	p := filepath.Join(t.root, filepath.FromSlash(normalized))
	rel, err := filepath.Rel(t.root, p)
	if err != nil || escapes(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return p, nil
}

func checkReference(ref string) error {
	switch {
	case strings.TrimSpace(ref) == "":
		return fmt.Errorf("%w: empty reference", ErrInvalidReference)
	case strings.ContainsRune(ref, 0):
		return fmt.Errorf("%w: NUL byte", ErrInvalidReference)
	case strings.HasPrefix(ref, "/"), strings.HasPrefix(ref, `\`), filepath.IsAbs(ref):
		return fmt.Errorf("%w: absolute path %q", ErrInvalidReference, ref)
	case filepath.VolumeName(ref) != "", hasDriveLetter(ref):
		return fmt.Errorf("%w: volume in %q", ErrInvalidReference, ref)
	}
	for _, seg := range strings.FieldsFunc(ref, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("%w: parent segment in %q", ErrInvalidReference, ref)
		}
	}
	return nil
}

func hasDriveLetter(ref string) bool {
	if len(ref) < 2 || ref[1] != ':' {
		return false
	}
	c := ref[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// escapes reports whether a root-relative path leaves the root or is the root itself.
func escapes(rel string) bool {
	return rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
