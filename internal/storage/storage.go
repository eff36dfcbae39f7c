// Package storage keeps uploaded media on local disk.
//
// SERVING UNTRUSTED FILES:
// Every stored file comes from a user and is served from the application's
// own origin. Only passive formats are accepted (no SVG or HTML, which can
// carry script), and FileServer adds headers that stop browsers from
// sniffing a different type or running anything the file contains.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind selects the subdirectory a file lives in.
type Kind string

const (
	KindImage  Kind = "images"
	KindSound  Kind = "sounds"
	KindAvatar Kind = "avatars"
)

// DefaultMaxBytes is the size limit for a single stored file.
const DefaultMaxBytes = 10 << 20

var (
	ErrTooLarge        = errors.New("storage: file exceeds size limit")
	ErrUnsupportedType = errors.New("storage: unsupported file extension")
	ErrBadFilename     = errors.New("storage: invalid filename")
)

var allowedExt = map[Kind]map[string]bool{
	KindImage:  {".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true},
	KindAvatar: {".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true},
	KindSound:  {".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".aac": true, ".webm": true},
}

// Store is the file storage collaborator used by the services.
type Store interface {
	Save(ctx context.Context, kind Kind, originalName string, r io.Reader) (string, error)
	Delete(kind Kind, filename string) (bool, error)
	URLFor(kind Kind, filename string) string
}

// DiskStore writes files under root/<kind>/ with uuid names and serves them
// from baseURL.
type DiskStore struct {
	root     string
	baseURL  string
	maxBytes int64
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates the kind directories under root.
func NewDiskStore(root, baseURL string, maxBytes int64) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	for kind := range allowedExt {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating %s directory: %w", kind, err)
		}
	}
	return &DiskStore{
		root:     root,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Root is the directory served under baseURL.
func (s *DiskStore) Root() string { return s.root }

// Save copies r into a new file named <uuid><ext>, where ext comes from
// originalName and must be allowed for kind. It returns the stored filename.
// A partial file is removed on any error.
func (s *DiskStore) Save(ctx context.Context, kind Kind, originalName string, r io.Reader) (string, error) {
	exts, ok := allowedExt[kind]
	if !ok {
		return "", fmt.Errorf("storage: unknown kind %q", kind)
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !exts[ext] {
		return "", fmt.Errorf("%w: %q for %s", ErrUnsupportedType, ext, kind)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext
	full := filepath.Join(s.root, string(kind), name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: creating %s: %w", name, err)
	}

	// Read one byte past the limit to detect oversized input.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("storage: writing %s: %w", name, err)
	}
	return name, nil
}

// Delete removes a stored file. A file that is already gone counts as
// deleted.
func (s *DiskStore) Delete(kind Kind, filename string) (bool, error) {
	if err := checkName(filename); err != nil {
		return false, err
	}
	err := os.Remove(filepath.Join(s.root, string(kind), filename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("storage: deleting %s: %w", filename, err)
	}
	return true, nil
}

// URLFor returns the public path of a stored file, or "" for an empty name.
func (s *DiskStore) URLFor(kind Kind, filename string) string {
	if filename == "" {
		return ""
	}
	return s.baseURL + "/" + path.Join(string(kind), filename)
}

// FileServer serves the files under root. Directory listings are refused
// and every response is marked as inert content.
func FileServer(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; sandbox")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		files.ServeHTTP(w, r)
	})
}

// checkName accepts bare filenames only, so a stored name can never point
// outside its directory.
func checkName(filename string) error {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	return nil
}
