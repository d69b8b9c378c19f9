// Package storage keeps uploaded content on local disk under a single root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"dossierline/internal/fileref"
)

var ErrTooLarge = errors.New("content too large")

// Disk stores each upload as <root>/<yyyy>/<mm>/<uuid><ext>.
type Disk struct {
	tok      fileref.Tokenizer
	maxBytes int64
	now      func() time.Time
}

func NewDisk(root string, maxBytes int64) (*Disk, error) {
	tok, err := fileref.New(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tok.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Disk{tok: tok, maxBytes: maxBytes, now: time.Now}, nil
}

func (d *Disk) Root() string { return d.tok.Root() }

func (d *Disk) Tokenizer() fileref.Tokenizer { return d.tok }

// Store writes data atomically and returns its absolute path.
func (d *Disk) Store(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), d.maxBytes)
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	now := d.now().UTC()
	dir := filepath.Join(d.tok.Root(), now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	final := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	return final, nil
}

// Delete removes a stored file. Paths outside the root are refused and a
// missing file is not an error.
func (d *Disk) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := d.tok.Tokenize(path)
	if err != nil {
		return err
	}
	abs, err := d.tok.Resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sniff detects the content type from the leading bytes.
func Sniff(data []byte) (mime string, ext string) {
	m := mimetype.Detect(data)
	return m.String(), m.Extension()
}

// SniffFile detects the content type of a stored file.
func SniffFile(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}
