// Package storage keeps uploaded post documents and media on local disk.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Bucket names one of the upload directories.
type Bucket string

const (
	Documents Bucket = "posts"
	Media     Bucket = "post_media"
)

var (
	// ErrExists is returned when an upload would overwrite a stored file.
	ErrExists = errors.New("file already exists")
	// ErrNotExist is returned by Read and Delete for missing files.
	ErrNotExist = fs.ErrNotExist
	// ErrBadName is returned for names that sanitize to nothing.
	ErrBadName = errors.New("invalid file name")
)

// Upload is a named file waiting to be stored.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Disk stores files under one directory per bucket.
type Disk struct {
	dirs map[Bucket]string
}

// NewDisk creates the bucket directories when they are missing.
func NewDisk(documentsDir, mediaDir string) (*Disk, error) {
	d := &Disk{dirs: map[Bucket]string{
		Documents: documentsDir,
		Media:     mediaDir,
	}}
	for b, dir := range d.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", b, err)
		}
	}
	return d, nil
}

// Dir returns the directory backing bucket b.
func (d *Disk) Dir(b Bucket) string {
	return d.dirs[b]
}

func (d *Disk) path(b Bucket, name string) (string, error) {
	dir, ok := d.dirs[b]
	if !ok {
		return "", fmt.Errorf("unknown bucket %q", b)
	}
	clean := SanitizeName(name)
	if clean == "" || clean != name {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(dir, clean), nil
}

// Exists reports whether name is already stored in bucket b.
func (d *Disk) Exists(b Bucket, name string) (bool, error) {
	p, err := d.path(b, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// SaveAll writes every upload into bucket b. Names must already be sanitized.
// If any name exists on disk or repeats within the batch nothing is written;
// if a write fails midway the files written by this call are removed again.
func (d *Disk) SaveAll(b Bucket, uploads []Upload) ([]string, error) {
	seen := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		if seen[u.Name] {
			return nil, fmt.Errorf("%w: %s (repeated in upload)", ErrExists, u.Name)
		}
		seen[u.Name] = true
		exists, err := d.Exists(b, u.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrExists, u.Name)
		}
	}

	written := make([]string, 0, len(uploads))
	for _, u := range uploads {
		if err := d.save(b, u); err != nil {
			for _, name := range written {
				_ = d.Delete(b, name)
			}
			return nil, err
		}
		written = append(written, u.Name)
	}
	return written, nil
}

func (d *Disk) save(b Bucket, u Upload) error {
	p, err := d.path(b, u.Name)
	if err != nil {
		return err
	}
	src, err := u.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", u.Name, err)
	}
	defer src.Close()

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, u.Name)
		}
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("write %s: %w", u.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return err
	}
	return nil
}

// Read returns the contents of a stored file.
func (d *Disk) Read(b Bucket, name string) ([]byte, error) {
	p, err := d.path(b, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Open returns a handle to a stored file for streaming.
func (d *Disk) Open(b Bucket, name string) (*os.File, error) {
	p, err := d.path(b, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes a stored file. A missing file yields an error matching ErrNotExist.
func (d *Disk) Delete(b Bucket, name string) error {
	p, err := d.path(b, name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeName reduces a client supplied file name to a safe base name:
// path parts are dropped, whitespace becomes underscores, other characters
// outside [A-Za-z0-9_.-] are removed, and leading dots or underscores are trimmed.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	name = strings.Join(strings.Fields(parts[len(parts)-1]), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, "._")
}

// Ext returns the lowercase extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
