package replay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// Source exposes a replay as a byte stream that can feed a Framer in place
// of a live adapter. Records stored without a header get one synthesised
// from their recorded type.
type Source struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewSource starts p in the background. The stream ends with io.EOF when
// the replay completes.
func NewSource(ctx context.Context, p *Player) *Source {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &Source{pr: pr, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		err := p.Play(ctx, func(pkt Packet) error {
			_, err := pw.Write(Frame(pkt))
			return err
		})
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		pw.CloseWithError(err)
	}()
	return s
}

// Frame returns the wire bytes for a replayed packet.
func Frame(pkt Packet) []byte {
	if protocol.HasMagicPrefix(pkt.Data) {
		return pkt.Data
	}
	return protocol.AppendMessage(nil, pkt.Record.Type, pkt.Data)
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close stops the replay and waits for it to exit.
func (s *Source) Close() error {
	s.cancel()
	err := s.pr.Close()
	<-s.done
	return err
}

// Err returns the replay outcome once the stream has ended. Cancellation
// caused by Close is not reported.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) || errors.Is(s.err, io.ErrClosedPipe) {
		return nil
	}
	return s.err
}
