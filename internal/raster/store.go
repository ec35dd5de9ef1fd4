package raster

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "img-"
	fileExt    = ".png"

	// ISO-8601 with millisecond precision, as printed in UTC.
	stampLayout = "2006-01-02T15:04:05.000Z07:00"

	maxNameAttempts = 1000
)

var ErrNameExhausted = errors.New("raster: no free file name for timestamp")

// Store persists rendered images under a root directory.
// Concurrent sessions may share one Store.
type Store struct {
	root string
}

// NewStore constructs a store rooted at dir; "" means the working directory.
func NewStore(dir string) *Store {
	resolved := strings.TrimSpace(dir)
	if resolved == "" {
		resolved = "."
	}
	return &Store{root: resolved}
}

func (s *Store) Root() string {
	return s.root
}

// FileName returns the base name for an image decoded at t.
// Colons are not safe in file names on every platform, so they become dots.
func FileName(t time.Time) string {
	stamp := t.UTC().Format(stampLayout)
	return filePrefix + strings.ReplaceAll(stamp, ":", ".") + fileExt
}

// Save encodes img as PNG under a name derived from at and returns its path.
// Files are created exclusively; a second image in the same millisecond gets
// a numeric suffix rather than overwriting the first.
func (s *Store) Save(img image.Image, at time.Time) (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("raster: create image dir: %w", err)
	}

	base := FileName(at)
	stem := strings.TrimSuffix(base, fileExt)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, attempt, fileExt)
		}
		path := filepath.Join(s.root, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("raster: create %s: %w", name, err)
		}
		if err := writePNG(f, img); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("raster: write %s: %w", name, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNameExhausted, base)
}

func writePNG(f *os.File, img image.Image) error {
	w := bufio.NewWriter(f)
	if err := EncodePNG(w, img); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// List returns stored image names (relative to the root) with the given
// prefix, sorted. A missing root yields an empty list.
func (s *Store) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		if prefix == "" || strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
