package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// tsClockRate is the MPEG-TS 90kHz timestamp clock.
const tsClockRate = 90000

// DefaultVideoPID is the PID used for the dumped H.264 track.
const DefaultVideoPID = 256

// TSDumpDecoder writes every handed-off access unit to an MPEG-TS stream so
// a replayed session can be inspected in a regular player. Timestamps are
// derived from local handoff time. A reset starts a new writer on the same
// output so the dump shows where the decoder was recreated.
type TSDumpDecoder struct {
	w      *bufio.Writer
	closer io.Closer
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	onOutput func()
	writer   *mpegts.Writer
	track    *mpegts.Track
	start    time.Time
	frames   int
}

// NewTSDumpDecoder creates a dump decoder writing to w. If w is an
// io.Closer it is closed by Release.
func NewTSDumpDecoder(w io.Writer, logger *slog.Logger) *TSDumpDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &TSDumpDecoder{
		w:      bufio.NewWriter(w),
		logger: logger.With(slog.String("component", "tsdump")),
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// SetOutputHandler implements OutputSource.
func (d *TSDumpDecoder) SetOutputHandler(h func()) {
	d.mu.Lock()
	d.onOutput = h
	d.mu.Unlock()
}

func (d *TSDumpDecoder) initialize() error {
	d.track = &mpegts.Track{
		PID:   DefaultVideoPID,
		Codec: &mpegts.CodecH264{},
	}
	d.writer = &mpegts.Writer{
		W:      d.w,
		Tracks: []*mpegts.Track{d.track},
	}
	if err := d.writer.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	d.start = d.now()
	return nil
}

// Decode implements Decoder.
func (d *TSDumpDecoder) Decode(_ context.Context, f *Frame) error {
	var au h264.AnnexB
	if err := au.Unmarshal(f.Data); err != nil {
		return fmt.Errorf("splitting access unit: %w", err)
	}

	d.mu.Lock()
	if d.writer == nil {
		if err := d.initialize(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	pts := d.now().Sub(d.start).Microseconds() * tsClockRate / 1_000_000
	err := d.writer.WriteH264(d.track, pts, pts, au)
	if err == nil {
		d.frames++
	}
	h := d.onOutput
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("writing access unit: %w", err)
	}
	if h != nil {
		h()
	}
	return nil
}

// Reset implements Decoder.
func (d *TSDumpDecoder) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("flushing dump: %w", err)
	}
	d.writer = nil
	d.track = nil
	d.logger.Debug("dump writer reset", slog.Int("frames", d.frames))
	return nil
}

// Release implements Decoder.
func (d *TSDumpDecoder) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("flushing dump: %w", err)
	}
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// Frames returns the number of access units written.
func (d *TSDumpDecoder) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}
