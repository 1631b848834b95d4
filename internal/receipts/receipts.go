// Package receipts stores uploaded receipt files on local disk under
// random names and serves them back read-only.
package receipts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is where stored receipts are served from.
const URLPrefix = "/receipts/"

var (
	ErrUnsupportedType = errors.New("unsupported receipt type")
	ErrTooLarge        = errors.New("receipt too large")
	ErrInvalidName     = errors.New("invalid receipt name")
	ErrEmpty           = errors.New("empty receipt")
)

var allowed = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
}

type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Save copies r to a new file named after a random UUID, keeping the
// extension of the uploaded name. It returns the public URL.
func (s *Store) Save(original string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := allowed[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create receipt file: %w", err)
	}

	// Read one byte past the limit to detect oversized uploads.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(path)
		return "", fmt.Errorf("write receipt: %w", err)
	case closeErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("close receipt: %w", closeErr)
	case n == 0:
		os.Remove(path)
		return "", ErrEmpty
	case n > s.maxBytes:
		os.Remove(path)
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	return URLPrefix + name, nil
}

// Path resolves a stored receipt name and its content type.
func (s *Store) Path(name string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	contentType, ok := allowed[ext]
	if !ok {
		return "", "", ErrInvalidName
	}
	if _, err := uuid.Parse(base); err != nil || strings.ContainsAny(name, `/\`) {
		return "", "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), contentType, nil
}

// Remove deletes the file behind a receipt URL. Unknown URLs are ignored.
func (s *Store) Remove(url string) error {
	if !strings.HasPrefix(url, URLPrefix) {
		return nil
	}
	path, _, err := s.Path(strings.TrimPrefix(url, URLPrefix))
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove receipt: %w", err)
	}
	return nil
}
