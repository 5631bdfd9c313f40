package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// CaptureRepository stores captures.
type CaptureRepository interface {
	Create(ctx context.Context, c *Capture) error
	GetByID(ctx context.Context, id ULID) (*Capture, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Capture, error)
	List(ctx context.Context, limit int) ([]*Capture, error)
	Delete(ctx context.Context, id ULID) error
}

// ReplayRunRepository stores replay runs.
type ReplayRunRepository interface {
	Start(ctx context.Context, captureID ULID) (*ReplayRun, error)
	Finish(ctx context.Context, run *ReplayRun) error
	ListByCapture(ctx context.Context, captureID ULID) ([]*ReplayRun, error)
	ListRunning(ctx context.Context) ([]*ReplayRun, error)
}

type captureRepository struct {
	db *gorm.DB
}

// NewCaptureRepository creates a CaptureRepository.
func NewCaptureRepository(db *gorm.DB) CaptureRepository {
	return &captureRepository{db: db}
}

func (r *captureRepository) Create(ctx context.Context, c *Capture) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating capture: %w", err)
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *captureRepository) GetByID(ctx context.Context, id ULID) (*Capture, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *captureRepository) GetBySessionID(ctx context.Context, sessionID string) (*Capture, error) {
	return r.first(ctx, "session_id = ?", sessionID)
}

func (r *captureRepository) first(ctx context.Context, query string, arg any) (*Capture, error) {
	var c Capture
	if err := r.db.WithContext(ctx).First(&c, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns the newest captures first. limit <= 0 means no limit.
func (r *captureRepository) List(ctx context.Context, limit int) ([]*Capture, error) {
	var captures []*Capture
	q := r.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&captures).Error; err != nil {
		return nil, err
	}
	return captures, nil
}

// Delete removes a capture and its runs.
func (r *captureRepository) Delete(ctx context.Context, id ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ReplayRun{}, "capture_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&Capture{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type replayRunRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReplayRunRepository creates a ReplayRunRepository.
func NewReplayRunRepository(db *gorm.DB) ReplayRunRepository {
	return &replayRunRepository{db: db, now: time.Now}
}

// Start records a running replay of captureID.
func (r *replayRunRepository) Start(ctx context.Context, captureID ULID) (*ReplayRun, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Capture{}).Where("id = ?", captureID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("capture %s: %w", captureID, ErrNotFound)
	}

	run := &ReplayRun{
		CaptureID: captureID,
		StartedAt: r.now().UTC(),
		Outcome:   OutcomeRunning,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Finish stores the final counters and outcome of run.
func (r *replayRunRepository) Finish(ctx context.Context, run *ReplayRun) error {
	if run.Outcome == "" || run.Outcome == OutcomeRunning {
		return fmt.Errorf("finishing run %s: outcome not set", run.ID)
	}
	if run.FinishedAt == nil {
		now := r.now().UTC()
		run.FinishedAt = &now
	}
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *replayRunRepository) ListByCapture(ctx context.Context, captureID ULID) ([]*ReplayRun, error) {
	var runs []*ReplayRun
	if err := r.db.WithContext(ctx).
		Where("capture_id = ?", captureID).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListRunning returns runs that never finished.
func (r *replayRunRepository) ListRunning(ctx context.Context) ([]*ReplayRun, error) {
	var runs []*ReplayRun
	if err := r.db.WithContext(ctx).
		Where("outcome = ?", OutcomeRunning).
		Order("started_at").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
