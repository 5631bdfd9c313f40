package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/replay"
)

// A capture is stored as <session>.index.json next to
// <session>.bin[.gz|.bz2|.xz|.br].
const (
	IndexSuffix = ".index.json"
	BlobMarker  = ".bin"
)

// CaptureStore lays out recorded captures inside a sandbox.
type CaptureStore struct {
	sb *Sandbox
}

// NewCaptureStore opens or creates a capture directory.
func NewCaptureStore(dir string) (*CaptureStore, error) {
	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, err
	}
	return &CaptureStore{sb: sb}, nil
}

// Dir returns the absolute capture directory.
func (s *CaptureStore) Dir() string {
	return s.sb.BaseDir()
}

// IndexName returns the index file name for a session.
func IndexName(sessionID string) string { return sessionID + IndexSuffix }

// BlobName returns the blob file name for a session.
func BlobName(sessionID string, c replay.Compression) string {
	return sessionID + BlobMarker + c.Extension()
}

// CreateBlob creates the blob file for a new recording and returns it with
// its absolute path. An existing blob is never overwritten.
func (s *CaptureStore) CreateBlob(sessionID string, c replay.Compression) (*os.File, string, error) {
	name := BlobName(sessionID, c)
	f, err := s.sb.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, "", fmt.Errorf("creating capture blob: %w", err)
	}
	return f, f.Name(), nil
}

// WriteIndex stores idx atomically and returns its absolute path. The index
// appears only once complete, so a blob without one marks an interrupted
// recording.
func (s *CaptureStore) WriteIndex(idx *replay.Index) (string, error) {
	var buf bytes.Buffer
	if err := replay.WriteIndex(&buf, idx); err != nil {
		return "", err
	}
	name := IndexName(idx.Session.ID)
	if err := s.sb.AtomicWriteReader(name, &buf); err != nil {
		return "", fmt.Errorf("writing capture index: %w", err)
	}
	return s.sb.ResolvePath(name)
}

// Remove deletes both files of a capture, ignoring ones already gone.
func (s *CaptureStore) Remove(sessionID string, c replay.Compression) error {
	for _, name := range []string{IndexName(sessionID), BlobName(sessionID, c)} {
		if err := s.sb.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Orphan is a blob with no index beside it.
type Orphan struct {
	Name      string
	SessionID string
	ModTime   time.Time
}

// Orphans lists blobs whose index is missing. Recordings still in progress
// also have no index, so callers filter by ModTime.
func (s *CaptureStore) Orphans() ([]Orphan, error) {
	entries, err := s.sb.List("")
	if err != nil {
		return nil, err
	}

	var out []Orphan
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		i := strings.Index(e.Name(), BlobMarker)
		if i <= 0 {
			continue
		}
		session := e.Name()[:i]
		if _, err := s.sb.Stat(IndexName(session)); err == nil {
			continue
		}
		info, err := s.sb.Stat(e.Name())
		if err != nil {
			continue
		}
		out = append(out, Orphan{Name: e.Name(), SessionID: session, ModTime: info.ModTime()})
	}
	return out, nil
}

// RemoveFile deletes one file from the capture directory.
func (s *CaptureStore) RemoveFile(name string) error {
	return s.sb.Remove(name)
}
