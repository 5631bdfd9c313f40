package audio

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Drain plays ch into w in real time, writing one period of PCM per tick.
// Ticks before the first payload write nothing. Underruns are padded
// according to the ring's fill mode. Drain returns nil when ctx is done.
func Drain(ctx context.Context, ch *Channel, w io.Writer, period time.Duration) error {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		format, ok := ch.Format()
		if !ok || format.FrameSize() == 0 {
			continue
		}
		n := int(int64(format.BytesPerSecond()) * int64(period) / int64(time.Second))
		n -= n % format.FrameSize()
		if n == 0 {
			continue
		}
		if cap(buf) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]

		ch.Fill(buf)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("writing %s audio: %w", ch.Type, err)
		}
	}
}
