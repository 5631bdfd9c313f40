// Package storage keeps recorded captures on disk.
//
// Capture files are named after session IDs taken from the wire or from a
// capture index, so every path is resolved inside the capture directory and
// anything that would leave it is rejected.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Sandbox confines file access to one capture directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox opens the capture directory at baseDir, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving capture directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}
	return &Sandbox{baseDir: abs}, nil
}

// BaseDir returns the absolute capture directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath maps a capture file name to its absolute path. Absolute names
// and names that climb out of the directory fail.
func (s *Sandbox) ResolvePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", name)
	}

	abs, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(name)))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	if abs != s.baseDir && !strings.HasPrefix(abs, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox: %s", name)
	}
	return abs, nil
}

// OpenFile opens a capture file. Parent directories are created for writes.
func (s *Sandbox) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	path, err := s.ResolvePath(name)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_CREATE|os.O_WRONLY|os.O_RDWR) != 0 {
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, fmt.Errorf("creating parent directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes a capture file.
func (s *Sandbox) Remove(name string) error {
	path, err := s.ResolvePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// AtomicWriteReader writes r to name through a temporary sibling and a
// rename. Readers see either the previous file or the complete new one.
func (s *Sandbox) AtomicWriteReader(name string, r io.Reader) (err error) {
	target, err := s.ResolvePath(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(name)+"."+randomHex(8)+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("renaming %s into place: %w", name, err)
	}
	return nil
}

// List returns the entries of the capture directory, or of a subdirectory
// when name is not empty.
func (s *Sandbox) List(name string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing capture directory: %w", err)
	}
	return entries, nil
}

// Stat returns file info for a capture file.
func (s *Sandbox) Stat(name string) (os.FileInfo, error) {
	path, err := s.ResolvePath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return info, nil
}

func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
