package catalog

import (
	"crypto/rand"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/session"
)

// ULID is a primary key stored as its 26 character string form.
type ULID ulid.ULID

// NewULID generates a new ULID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *ULID) UnmarshalText(b []byte) error {
	return u.Scan(string(b))
}

// GormDataType returns the column type.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel provides the ULID key and timestamps.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an ID if unset.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}

// Capture is a recorded session stored on disk as an index and a blob.
type Capture struct {
	BaseModel
	Name        string    `gorm:"not null;index" json:"name"`
	SessionID   string    `gorm:"not null;uniqueIndex;size:64" json:"session_id"`
	IndexPath   string    `gorm:"not null" json:"index_path"`
	BlobPath    string    `gorm:"not null" json:"blob_path"`
	Compression string    `gorm:"size:16" json:"compression"`
	StartedAt   time.Time `json:"started_at"`
	Packets     int       `json:"packets"`
	InPackets   int       `json:"in_packets"`
	Bytes       int64     `json:"bytes"`
	DurationMs  int64     `json:"duration_ms"`
	// EffectiveMs spans the first to last IN packet.
	EffectiveMs int64       `json:"effective_ms"`
	Runs        []ReplayRun `gorm:"constraint:OnDelete:CASCADE" json:"runs,omitempty"`
}

// Validate checks required fields.
func (c *Capture) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("capture name is required")
	case c.SessionID == "":
		return errors.New("capture session id is required")
	case c.IndexPath == "" || c.BlobPath == "":
		return errors.New("capture index and blob paths are required")
	}
	return nil
}

// RunOutcome is how a replay run ended.
type RunOutcome string

const (
	OutcomeRunning   RunOutcome = "running"
	OutcomeCompleted RunOutcome = "completed"
	OutcomeCancelled RunOutcome = "cancelled"
	OutcomeFailed    RunOutcome = "failed"
)

// ReplayRun is one replay of a capture through the pipeline.
type ReplayRun struct {
	BaseModel
	CaptureID  ULID       `gorm:"type:varchar(26);not null;index" json:"capture_id"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    RunOutcome `gorm:"size:16;not null;index" json:"outcome"`
	Error      string     `json:"error,omitempty"`

	Emitted            int    `json:"emitted"`
	VideoAdmitted      uint64 `json:"video_admitted"`
	VideoDropped       uint64 `json:"video_dropped"`
	KeyframeRequests   uint64 `json:"keyframe_requests"`
	DecoderResets      uint64 `json:"decoder_resets"`
	AudioAdmitted      uint64 `json:"audio_admitted"`
	AudioDropped       uint64 `json:"audio_dropped"`
	AudioUnderrunBytes uint64 `json:"audio_underrun_bytes"`
}

// Duration returns the run time, zero while running.
func (r *ReplayRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ApplyStats copies the pipeline counters of a finished session.
func (r *ReplayRun) ApplyStats(st session.Stats) {
	v := st.Video
	r.VideoAdmitted = v.Admitted
	r.VideoDropped = v.DroppedAwaitingIDR + v.DroppedStale + v.DroppedMalformed +
		v.DroppedNoSlice + v.DroppedResetting + v.DroppedOverflow
	r.KeyframeRequests = v.KeyframeRequests
	r.DecoderResets = v.Resets

	r.AudioAdmitted = st.Audio.Admitted
	r.AudioDropped = 0
	for _, n := range st.Audio.Dropped {
		r.AudioDropped += n
	}
	r.AudioUnderrunBytes = 0
	for _, ch := range st.Audio.Channels {
		r.AudioUnderrunBytes += ch.UnderrunBytes
	}
}

// CaptureFromIndex builds a Capture describing a recorded index.
func CaptureFromIndex(name, indexPath, blobPath, compression string, idx *replay.Index) *Capture {
	s := idx.Summarize()
	return &Capture{
		Name:        name,
		SessionID:   idx.Session.ID,
		IndexPath:   indexPath,
		BlobPath:    blobPath,
		Compression: compression,
		StartedAt:   idx.Session.Started.Time,
		Packets:     s.Packets,
		InPackets:   s.In,
		Bytes:       s.Bytes,
		DurationMs:  idx.Session.DurationMs,
		EffectiveMs: s.EffectiveDuration.Milliseconds(),
	}
}
