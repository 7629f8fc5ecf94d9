// Package blob stores uploaded images and attachments and hands back the
// URL that lots, offers and messages keep verbatim.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store uploads one object and returns its public URL.
type Store interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// ObjectKey builds a collision-free key that keeps the original extension.
func ObjectKey(prefix, name string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(name)))
	if len(ext) > 8 {
		ext = ""
	}
	return path.Join(prefix, uuid.NewString()+ext)
}

// Local writes uploads under a directory served by the HTTP layer.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal prepares dir and serves files under baseURL (e.g. "/media").
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: media dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(ctx context.Context, name, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey("", name)
	f, err := os.OpenFile(filepath.Join(l.dir, key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("blob: create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return l.baseURL + "/" + key, nil
}
