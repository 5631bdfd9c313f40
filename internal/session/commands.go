package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

const commandQueueSize = 8

// CommandWriter serialises engine commands onto the adapter's outbound
// stream. SendCommand never blocks; commands are dropped when the queue is
// full. Decoder resets are local and never reach the wire.
type CommandWriter struct {
	w        io.Writer
	queue    chan video.Command
	logger   *slog.Logger
	recorder *replay.Recorder

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewCommandWriter creates a writer for w. recorder may be nil.
func NewCommandWriter(w io.Writer, logger *slog.Logger, recorder *replay.Recorder) *CommandWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandWriter{
		w:        w,
		queue:    make(chan video.Command, commandQueueSize),
		logger:   logger,
		recorder: recorder,
	}
}

// SendCommand implements video.CommandSink.
func (c *CommandWriter) SendCommand(cmd video.Command) {
	if cmd != video.CommandRequestKeyframe {
		return
	}
	select {
	case c.queue <- cmd:
	default:
		c.dropped.Add(1)
		c.logger.Debug("command dropped, queue full", slog.String("command", cmd.String()))
	}
}

// Run writes queued commands until ctx is done.
func (c *CommandWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.queue:
			if err := c.write(cmd); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (c *CommandWriter) write(cmd video.Command) error {
	payload := binary.LittleEndian.AppendUint32(nil, uint32(protocol.CommandRequestKeyframe))
	msg := protocol.AppendMessage(nil, protocol.TypeCommand, payload)
	if _, err := c.w.Write(msg); err != nil {
		return fmt.Errorf("writing %s command: %w", cmd, err)
	}
	c.sent.Add(1)

	if c.recorder != nil {
		out := &protocol.Message{Header: protocol.NewHeader(protocol.TypeCommand, len(payload)), Payload: payload}
		if err := c.recorder.Record(replay.DirOut, out); err != nil {
			c.logger.Warn("recording command failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Sent returns the number of commands written.
func (c *CommandWriter) Sent() uint64 { return c.sent.Load() }

// Dropped returns the number of commands discarded on a full queue.
func (c *CommandWriter) Dropped() uint64 { return c.dropped.Load() }

// fanout delivers each command to several sinks.
type fanout []video.CommandSink

func (f fanout) SendCommand(cmd video.Command) {
	for _, s := range f {
		s.SendCommand(cmd)
	}
}
