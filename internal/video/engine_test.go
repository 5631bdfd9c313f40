package video

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/cpcbridge/internal/codec"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	testPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	testP   = []byte{0x41, 0x9a, 0x21, 0x6c, 0x41}
	testSEI = []byte{0x06, 0x05, 0x01, 0x80}
)

func annexB(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, u...)
	}
	return out
}

func idrFrame() protocol.VideoFrame {
	return protocol.VideoFrame{Width: 1280, Height: 720, Data: annexB(testSPS, testPPS, testIDR)}
}

func bareIDRFrame() protocol.VideoFrame {
	return protocol.VideoFrame{Width: 1280, Height: 720, Data: annexB(testIDR)}
}

func pFrame() protocol.VideoFrame {
	return protocol.VideoFrame{Width: 1280, Height: 720, Data: annexB(testP)}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// commandRecorder collects emitted commands.
type commandRecorder struct {
	mu       sync.Mutex
	commands []Command
}

func (r *commandRecorder) SendCommand(c Command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
}

func (r *commandRecorder) All() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

type testEngine struct {
	*Engine
	clock    *fakeClock
	commands *commandRecorder

	obsMu       sync.Mutex
	transitions [][2]State
}

func (te *testEngine) Transitions() [][2]State {
	te.obsMu.Lock()
	defer te.obsMu.Unlock()
	return append([][2]State(nil), te.transitions...)
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	te := &testEngine{clock: newFakeClock(), commands: &commandRecorder{}}
	te.Engine = NewEngine(cfg, NewNullDecoder(),
		WithClock(te.clock.Now),
		WithCommandSink(te.commands),
		WithLogger(observability.Discard()),
		WithStateObserver(func(from, to State) {
			te.obsMu.Lock()
			te.transitions = append(te.transitions, [2]State{from, to})
			te.obsMu.Unlock()
		}),
	)
	return te
}

// resetNow completes a pending reset the way Run would.
func (te *testEngine) resetNow(t *testing.T) {
	t.Helper()
	require.True(t, te.needsReset())
	te.finishReset()
}

func TestEngine_InitialState(t *testing.T) {
	te := newTestEngine(t, nil)
	assert.Equal(t, StateAwaitingIDR, te.State())
	assert.False(t, te.Pending())
	assert.Nil(t, te.take())
}

func TestEngine_IDRGate(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()

	assert.Equal(t, DecisionDropAwaitingIDR, te.Admit(pFrame(), now))
	assert.Equal(t, DecisionDropAwaitingIDR, te.Admit(protocol.VideoFrame{Data: annexB(testSEI)}, now))
	assert.Equal(t, StateAwaitingIDR, te.State())
	assert.False(t, te.Pending())

	assert.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	assert.Equal(t, StateStreaming, te.State())

	f := te.take()
	require.NotNil(t, f)
	assert.True(t, f.IDR)

	stats := te.Stats()
	assert.Equal(t, uint64(2), stats.DroppedAwaitingIDR)
	assert.Equal(t, uint64(1), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Fed)
	assert.Equal(t, uint64(1), stats.IDRsFed)
	assert.Equal(t, [][2]State{{StateAwaitingIDR, StateStreaming}}, te.Transitions())
}

func TestEngine_IDRGateRandomSequences(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		te := newTestEngine(t, func(c *Config) { c.StalenessBudget = time.Hour })

		firstAfterReset := true
		for i := 0; i < 200; i++ {
			now := te.clock.Advance(time.Duration(rng.IntN(20)) * time.Millisecond)
			before := te.State()

			switch rng.IntN(10) {
			case 0:
				te.ReportError(errors.New("boom"))
				if te.needsReset() {
					te.finishReset()
					firstAfterReset = true
				}
				continue
			case 1, 2:
				d := te.Admit(idrFrame(), now)
				if before == StateAwaitingIDR {
					require.Equal(t, DecisionAdmitted, d)
					require.Equal(t, StateStreaming, te.State())
				}
			case 3:
				te.ReportOutput()
			default:
				d := te.Admit(pFrame(), now)
				if before == StateAwaitingIDR {
					require.Equal(t, DecisionDropAwaitingIDR, d, "seed %d step %d", seed, i)
				}
			}

			if rng.IntN(2) == 0 {
				if f := te.take(); f != nil && firstAfterReset {
					require.True(t, f.IDR, "first frame after reset must be an IDR (seed %d step %d)", seed, i)
					firstAfterReset = false
				}
			}
		}
	}
}

func TestEngine_StaleNonIDRDroppedAtAdmission(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	require.NotNil(t, te.take())

	old := now.Add(-41 * time.Millisecond)
	assert.Equal(t, DecisionDropStale, te.Admit(pFrame(), old))
	assert.Equal(t, DecisionAdmitted, te.Admit(pFrame(), now.Add(-39*time.Millisecond)))
	assert.Equal(t, uint64(1), te.Stats().DroppedStale)
}

func TestEngine_IDRNeverDroppedForStaleness(t *testing.T) {
	for _, budget := range []time.Duration{0, time.Nanosecond, time.Millisecond, 40 * time.Millisecond} {
		te := newTestEngine(t, func(c *Config) { c.StalenessBudget = budget })
		now := te.clock.Now()

		ancient := now.Add(-10 * time.Second)
		require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), ancient), "budget %s", budget)

		te.clock.Advance(5 * time.Second)
		f := te.take()
		require.NotNil(t, f, "budget %s", budget)
		assert.True(t, f.IDR)

		// Also while streaming.
		require.Equal(t, DecisionAdmitted, te.Admit(bareIDRFrame(), ancient))
		require.NotNil(t, te.take())
		assert.Zero(t, te.Stats().DroppedStale)
	}
}

func TestEngine_StaleAtHandoff(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	require.NotNil(t, te.take())

	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), now))
	te.clock.Advance(50 * time.Millisecond)
	assert.Nil(t, te.take())
	assert.False(t, te.Pending())
	assert.Equal(t, uint64(1), te.Stats().DroppedStale)
}

func TestEngine_SingleSlotDropOldest(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	require.NotNil(t, te.take())

	var lastSeq uint64
	for i := 0; i < 10; i++ {
		require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), now))
	}
	te.mu.Lock()
	lastSeq = te.pending.Seq
	te.mu.Unlock()

	f := te.take()
	require.NotNil(t, f)
	assert.Equal(t, lastSeq, f.Seq)
	assert.Nil(t, te.take())
	assert.Equal(t, uint64(9), te.Stats().Superseded)
}

func TestEngine_NonIDRCoalescedIntoPendingIDR(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	assert.Equal(t, DecisionCoalesced, te.Admit(pFrame(), now))

	f := te.take()
	require.NotNil(t, f)
	assert.True(t, f.IDR)

	b, err := codec.ClassifyH264(f.Data)
	require.NoError(t, err)
	assert.True(t, b.HasIDR)
	assert.True(t, b.HasNonIDR)
	assert.Len(t, b.NALUs, 4)
	assert.Equal(t, uint64(1), te.Stats().Coalesced)
}

func TestEngine_CoalesceOverflowDropsNonIDR(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.MaxBundleSize = len(idrFrame().Data) + 2 })
	now := te.clock.Now()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), now))
	assert.Equal(t, DecisionDropOverflow, te.Admit(pFrame(), now))

	f := te.take()
	require.NotNil(t, f)
	assert.Equal(t, idrFrame().Data, f.Data)
}

func TestEngine_ParameterSetsPrependedToBareIDR(t *testing.T) {
	te := newTestEngine(t, nil)
	now := te.clock.Now()

	assert.Equal(t, DecisionCached, te.Admit(protocol.VideoFrame{Data: annexB(testSPS, testPPS)}, now))
	assert.Equal(t, StateAwaitingIDR, te.State())

	require.Equal(t, DecisionAdmitted, te.Admit(bareIDRFrame(), now))
	f := te.take()
	require.NotNil(t, f)

	b, err := codec.ClassifyH264(f.Data)
	require.NoError(t, err)
	require.Len(t, b.NALUs, 3)
	assert.True(t, b.HasParameterSets())

	stats := te.Stats()
	assert.Equal(t, 1280, stats.Width)
	assert.Equal(t, 720, stats.Height)
}

func TestEngine_MalformedDropped(t *testing.T) {
	te := newTestEngine(t, nil)
	assert.Equal(t, DecisionDropMalformed, te.Admit(protocol.VideoFrame{Data: []byte{0xde, 0xad}}, te.clock.Now()))
	assert.Equal(t, DecisionDropMalformed, te.Admit(protocol.VideoFrame{}, te.clock.Now()))
	assert.Equal(t, uint64(2), te.Stats().DroppedMalformed)
	assert.Equal(t, StateAwaitingIDR, te.State())
}

func streaming(t *testing.T, te *testEngine) {
	t.Helper()
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), te.clock.Now()))
	require.NotNil(t, te.take())
	te.ReportOutput()
	require.Equal(t, StateStreaming, te.State())
}

func TestEngine_StallRequestsKeyframe(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)

	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(100 * time.Millisecond))
	assert.Equal(t, StateStreaming, te.State())
	assert.Empty(t, te.commands.All())

	te.CheckLiveness(te.clock.Advance(100 * time.Millisecond))
	assert.Equal(t, StateStalled, te.State())
	assert.Equal(t, []Command{CommandRequestKeyframe}, te.commands.All())

	te.ReportOutput()
	assert.Equal(t, StateStreaming, te.State())
	assert.Equal(t, uint64(1), te.Stats().KeyframeRequests)
}

func TestEngine_NoStallWithoutFeeding(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)

	te.CheckLiveness(te.clock.Advance(10 * time.Second))
	assert.Equal(t, StateStreaming, te.State())
	assert.Empty(t, te.commands.All())
}

func TestEngine_KeyframeRetriesExhaustedResets(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.KeyframeRetries = 3 })
	streaming(t, te)
	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	for i := 0; i < 4; i++ {
		te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
	}

	assert.Equal(t, StateResetting, te.State())
	assert.Equal(t, []Command{
		CommandRequestKeyframe,
		CommandRequestKeyframe,
		CommandRequestKeyframe,
		CommandResetDecoder,
	}, te.commands.All())

	te.resetNow(t)
	assert.Equal(t, StateAwaitingIDR, te.State())
	assert.Equal(t, uint64(1), te.Stats().Resets)
}

func TestEngine_IDRWithoutOutputPoisons(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)
	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
	require.Equal(t, StateStalled, te.State())

	// The phone answers with an IDR, the decoder stays silent.
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
	assert.Equal(t, StateResetting, te.State())

	tr := te.Transitions()
	require.GreaterOrEqual(t, len(tr), 2)
	assert.Equal(t, [2]State{StateStalled, StatePoisoned}, tr[len(tr)-2])
	assert.Equal(t, [2]State{StatePoisoned, StateResetting}, tr[len(tr)-1])
	assert.Equal(t, []Command{CommandRequestKeyframe, CommandResetDecoder}, te.commands.All())
}

func TestEngine_RecentIDRNotPoisoned(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)
	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
	require.Equal(t, StateStalled, te.State())

	// The IDR arrives just before the watchdog fires again.
	te.clock.Advance(195 * time.Millisecond)
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(5 * time.Millisecond))
	assert.Equal(t, StateStalled, te.State())
	assert.Equal(t, []Command{CommandRequestKeyframe}, te.commands.All())

	// The decoder catches up from the IDR.
	te.ReportOutput()
	assert.Equal(t, StateStreaming, te.State())
	assert.Equal(t, uint64(0), te.Stats().Resets)
}

func TestEngine_RecentIDRPoisonsOnceWindowElapses(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)
	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
	te.clock.Advance(195 * time.Millisecond)
	require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), te.clock.Now()))
	require.NotNil(t, te.take())

	te.CheckLiveness(te.clock.Advance(5 * time.Millisecond))
	require.Equal(t, StateStalled, te.State())

	te.CheckLiveness(te.clock.Advance(100 * time.Millisecond))
	require.Equal(t, StateStalled, te.State())

	te.CheckLiveness(te.clock.Advance(100 * time.Millisecond))
	assert.Equal(t, StateResetting, te.State())
	assert.Equal(t, []Command{CommandRequestKeyframe, CommandResetDecoder}, te.commands.All())
}

func TestEngine_RepeatedPoisonResetRestoresGate(t *testing.T) {
	te := newTestEngine(t, nil)

	for i := 0; i < 5; i++ {
		streaming(t, te)
		require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))
		require.NotNil(t, te.take())
		te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
		require.Equal(t, DecisionAdmitted, te.Admit(idrFrame(), te.clock.Now()))
		require.NotNil(t, te.take())
		te.CheckLiveness(te.clock.Advance(200 * time.Millisecond))
		require.Equal(t, StateResetting, te.State())

		assert.Equal(t, DecisionDropResetting, te.Admit(idrFrame(), te.clock.Now()))

		te.resetNow(t)
		require.Equal(t, StateAwaitingIDR, te.State())
		assert.False(t, te.Pending())

		assert.Equal(t, DecisionDropAwaitingIDR, te.Admit(pFrame(), te.clock.Now()))
		assert.Nil(t, te.take())

		stats := te.Stats()
		assert.Zero(t, stats.IDRsFed)
		assert.Zero(t, stats.OutputsInEpoch)
	}
	assert.Equal(t, uint64(5), te.Stats().Resets)
	assert.Equal(t, uint64(5), te.Stats().Generation)
}

func TestEngine_DecoderErrorForcesReset(t *testing.T) {
	te := newTestEngine(t, nil)
	streaming(t, te)
	require.Equal(t, DecisionAdmitted, te.Admit(pFrame(), te.clock.Now()))

	te.ReportError(errors.New("codec exception"))
	assert.Equal(t, StateResetting, te.State())
	assert.False(t, te.Pending())
	assert.Equal(t, []Command{CommandResetDecoder}, te.commands.All())

	// A second error during the reset is counted but does not reset again.
	te.ReportError(errors.New("again"))
	stats := te.Stats()
	assert.Equal(t, uint64(1), stats.Resets)
	assert.Equal(t, uint64(2), stats.DecodeErrors)
}

func TestEngine_ClosedIgnoresEvents(t *testing.T) {
	te := newTestEngine(t, nil)
	require.NoError(t, te.Close())
	require.NoError(t, te.Close())

	assert.Equal(t, DecisionDropResetting, te.Admit(idrFrame(), te.clock.Now()))
	te.ReportOutput()
	te.ReportError(errors.New("late"))
	assert.Equal(t, StateAwaitingIDR, te.State())
}

// blockingDecoder holds the first Decode call until released.
type blockingDecoder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	frames   []*Frame
	inFlight int
	maxIn    int
	resetErr error
	resets   int
}

func newBlockingDecoder() *blockingDecoder {
	return &blockingDecoder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDecoder) Decode(ctx context.Context, f *Frame) error {
	d.mu.Lock()
	d.inFlight++
	d.maxIn = max(d.maxIn, d.inFlight)
	d.frames = append(d.frames, f)
	d.mu.Unlock()

	first := false
	d.once.Do(func() { first = true })
	if first {
		close(d.entered)
		select {
		case <-d.release:
		case <-ctx.Done():
		}
	}

	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()
	return nil
}

func (d *blockingDecoder) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return d.resetErr
}

func (d *blockingDecoder) Release() error { return nil }

func (d *blockingDecoder) Frames() []*Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Frame(nil), d.frames...)
}

func TestEngine_RunBurstSeesAtMostOnePending(t *testing.T) {
	dec := newBlockingDecoder()
	cfg := DefaultConfig()
	cfg.StalenessBudget = time.Minute
	e := NewEngine(cfg, dec, WithLogger(observability.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Equal(t, DecisionAdmitted, e.Admit(idrFrame(), time.Now()))
	<-dec.entered

	const burst = 50
	for i := 0; i < burst; i++ {
		require.Equal(t, DecisionAdmitted, e.Admit(pFrame(), time.Now()))
		assert.True(t, e.Pending())
	}
	close(dec.release)

	require.Eventually(t, func() bool { return len(dec.Frames()) == 2 && !e.Pending() },
		2*time.Second, 5*time.Millisecond)

	frames := dec.Frames()
	assert.True(t, frames[0].IDR)
	assert.False(t, frames[1].IDR)
	assert.Equal(t, uint64(burst+1), frames[1].Seq)
	assert.Equal(t, uint64(burst-1), e.Stats().Superseded)

	dec.mu.Lock()
	assert.Equal(t, 1, dec.maxIn)
	dec.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, e.Close())
}

func TestEngine_RunWithNullDecoder(t *testing.T) {
	dec := NewNullDecoder()
	e := NewEngine(DefaultConfig(), dec, WithLogger(observability.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Equal(t, DecisionAdmitted, e.Admit(idrFrame(), time.Now()))
	require.Eventually(t, func() bool { return e.Stats().Outputs == 1 }, time.Second, 5*time.Millisecond)

	e.ReportError(errors.New("surface lost"))
	require.Eventually(t, func() bool {
		return e.State() == StateAwaitingIDR && dec.Resets() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, e.Close())
	assert.Equal(t, uint64(1), dec.Frames())
}

func TestEngine_RunResetFailure(t *testing.T) {
	dec := newBlockingDecoder()
	close(dec.release)
	dec.resetErr = errors.New("no hardware")
	e := NewEngine(DefaultConfig(), dec, WithLogger(observability.Discard()))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.RequestReset()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDecoderReset)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after failed reset")
	}
}

func TestEngine_RunWatchdogStallsWithSilentDecoder(t *testing.T) {
	dec := newBlockingDecoder()
	close(dec.release)
	cmds := &commandRecorder{}
	cfg := DefaultConfig()
	cfg.StallTimeout = 30 * time.Millisecond
	cfg.WatchdogInterval = 5 * time.Millisecond
	e := NewEngine(cfg, dec, WithLogger(observability.Discard()), WithCommandSink(cmds))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Equal(t, DecisionAdmitted, e.Admit(idrFrame(), time.Now()))

	// The decoder never reports output: stall, keyframe retries, then reset.
	require.Eventually(t, func() bool { return e.Stats().Resets >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, cmds.All(), CommandRequestKeyframe)
	assert.Contains(t, cmds.All(), CommandResetDecoder)

	cancel()
	require.NoError(t, <-done)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_idr", StateAwaitingIDR.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "stalled", StateStalled.String())
	assert.Equal(t, "poisoned", StatePoisoned.String())
	assert.Equal(t, "resetting", StateResetting.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := StateStalled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stalled", string(text))
}

func TestDecision(t *testing.T) {
	assert.False(t, DecisionAdmitted.Dropped())
	assert.False(t, DecisionCoalesced.Dropped())
	assert.False(t, DecisionCached.Dropped())
	assert.True(t, DecisionDropStale.Dropped())
	assert.True(t, DecisionDropOverflow.Dropped())
	assert.Equal(t, "stale", DecisionDropStale.String())
}
