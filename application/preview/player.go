package preview

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/domain/ports"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"go.uber.org/zap"
)

// State is the load state of the preview buffer
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Listener observes the player. PositionChanged is called from Pull and
// must return quickly.
type Listener interface {
	LoadStateChanged(state State)
	PlaybackStarted()
	PlaybackStopped()
	PositionChanged(seconds float64)
}

// ListenerFuncs adapts optional functions to Listener
type ListenerFuncs struct {
	OnLoadState func(State)
	OnStarted   func()
	OnStopped   func()
	OnPosition  func(float64)
}

func (l *ListenerFuncs) LoadStateChanged(s State) {
	if l.OnLoadState != nil {
		l.OnLoadState(s)
	}
}

func (l *ListenerFuncs) PlaybackStarted() {
	if l.OnStarted != nil {
		l.OnStarted()
	}
}

func (l *ListenerFuncs) PlaybackStopped() {
	if l.OnStopped != nil {
		l.OnStopped()
	}
}

func (l *ListenerFuncs) PositionChanged(sec float64) {
	if l.OnPosition != nil {
		l.OnPosition(sec)
	}
}

// Config configures a Player
type Config struct {
	// Post runs f off the realtime path. Defaults to a new goroutine.
	Post   func(f func())
	Logger *logger.Logger
}

// Player decodes a lane stack into a stereo buffer and serves it to a
// pull-based audio callback. Loads are tagged with a generation; a load
// that has been superseded never touches the buffer.
type Player struct {
	executor ports.FFmpegExecutor
	post     func(func())
	log      *logger.Logger

	generation atomic.Uint64
	shutdown   atomic.Bool
	playing    atomic.Bool

	// mu guards the buffer, shared with the realtime Pull path
	mu           sync.Mutex
	state        State
	left, right  []float32
	sampleRate   int
	cursor       int
	lastErr      error
	cancelDecode context.CancelFunc

	lmu       sync.Mutex
	listeners []Listener

	wg sync.WaitGroup
}

// New creates a Player in the Empty state
func New(executor ports.FFmpegExecutor, cfg Config) *Player {
	if cfg.Post == nil {
		cfg.Post = func(f func()) { go f() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Player{
		executor: executor,
		post:     cfg.Post,
		log:      cfg.Logger,
	}
}

func (p *Player) AddListener(l Listener) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Player) RemoveListener(l Listener) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	for i, x := range p.listeners {
		if x == l {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

func (p *Player) notify(fn func(Listener)) {
	p.lmu.Lock()
	ls := append([]Listener(nil), p.listeners...)
	p.lmu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

// LoadLanes stops playback and starts decoding lanes asynchronously. An
// empty stack clears the buffer.
func (p *Player) LoadLanes(lanes []model.Lane) {
	if p.shutdown.Load() {
		return
	}
	p.Stop()

	snapshot := append([]model.Lane(nil), lanes...)

	p.mu.Lock()
	gen := p.generation.Add(1)
	if p.cancelDecode != nil {
		p.cancelDecode()
		p.cancelDecode = nil
	}
	if len(snapshot) == 0 {
		p.left, p.right = nil, nil
		p.cursor = 0
		p.lastErr = nil
		p.state = StateEmpty
		p.mu.Unlock()
		p.notify(func(l Listener) { l.LoadStateChanged(StateEmpty) })
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelDecode = cancel
	p.state = StateLoading
	p.mu.Unlock()

	p.notify(func(l Listener) { l.LoadStateChanged(StateLoading) })

	p.wg.Add(1)
	go p.decode(ctx, gen, snapshot)
}

func (p *Player) stale(gen uint64) bool {
	return p.shutdown.Load() || p.generation.Load() != gen
}

func (p *Player) decode(ctx context.Context, gen uint64, lanes []model.Lane) {
	defer p.wg.Done()

	log := p.log.With(zap.Uint64("generation", gen), zap.Int("lanes", len(lanes)))
	if p.stale(gen) {
		return
	}
	if !p.executor.FFmpegAvailable() {
		p.fail(gen, pkgerrors.NewToolMissingError(ffmpeg.FFmpegName))
		return
	}

	start := time.Now()
	rate := lanes[0].DecodeRate()

	sources := make(map[model.SourceKey][][]float32)
	var frames, decoded int
	for _, lane := range lanes {
		key := lane.SourceKey()
		if _, ok := sources[key]; ok {
			continue
		}
		if p.stale(gen) {
			return
		}

		raw, err := p.decodeSource(ctx, lane, rate)
		if err != nil {
			if p.stale(gen) {
				return
			}
			log.Warn("preview decode failed", zap.String("source", key.String()), zap.Error(err))
			p.fail(gen, err)
			return
		}
		decoded += len(raw)

		chans := Deinterleave(raw, lane.TotalChannels)
		sources[key] = chans
		if len(chans) > 0 {
			frames = max(frames, len(chans[0]))
		}
	}

	if p.stale(gen) {
		return
	}
	if decoded == 0 {
		p.fail(gen, errors.New("decoder produced no audio"))
		return
	}

	taps := make([][]float32, len(lanes))
	for i, lane := range lanes {
		chans := sources[lane.SourceKey()]
		if lane.ChannelIndex >= 0 && lane.ChannelIndex < len(chans) {
			taps[i] = chans[lane.ChannelIndex]
		}
	}
	left, right := MixToStereo(taps, frames)
	gain := Normalize(left, right)

	p.mu.Lock()
	if p.stale(gen) {
		p.mu.Unlock()
		return
	}
	p.left, p.right = left, right
	p.sampleRate = rate
	p.cursor = 0
	p.lastErr = nil
	p.state = StateReady
	p.mu.Unlock()

	log.Debug("preview ready",
		zap.Int("frames", frames),
		zap.Int("sample_rate", rate),
		zap.Float64("gain", gain),
		zap.Duration("took", time.Since(start)),
	)
	p.notify(func(l Listener) { l.LoadStateChanged(StateReady) })
}

func (p *Player) decodeSource(ctx context.Context, lane model.Lane, rate int) ([]byte, error) {
	rc, err := p.executor.Stream(ctx, ffmpeg.DecodePCMArgs(lane.SourceFile, lane.StreamIndex, rate))
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(rc)
	closeErr := rc.Close()
	if len(raw) > 0 {
		return raw, nil
	}
	if readErr != nil {
		return nil, readErr
	}
	return nil, closeErr
}

// fail moves to Error, leaving the previous buffer in place
func (p *Player) fail(gen uint64, err error) {
	p.mu.Lock()
	if p.stale(gen) {
		p.mu.Unlock()
		return
	}
	p.state = StateError
	p.lastErr = err
	p.mu.Unlock()

	p.notify(func(l Listener) { l.LoadStateChanged(StateError) })
}

// Play starts playback from the beginning
func (p *Player) Play() error {
	p.mu.Lock()
	if p.state != StateReady || len(p.left) == 0 {
		p.mu.Unlock()
		return pkgerrors.ErrNotReady
	}
	p.cursor = 0
	p.playing.Store(true)
	p.mu.Unlock()

	p.notify(func(l Listener) { l.PlaybackStarted() })
	return nil
}

// Stop halts playback. Calling it while stopped does nothing.
func (p *Player) Stop() {
	if p.playing.CompareAndSwap(true, false) {
		p.notify(func(l Listener) { l.PlaybackStopped() })
	}
}

// Pull fills left and right with the next frames and returns how many were
// written. Unwritten frames are silence. Reaching the end schedules a stop
// through Post.
func (p *Player) Pull(left, right []float32) int {
	n := min(len(left), len(right))
	clear(left[:n])
	clear(right[:n])
	if !p.playing.Load() {
		return 0
	}

	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return 0
	}
	k := min(n, len(p.left)-p.cursor)
	copy(left[:k], p.left[p.cursor:])
	copy(right[:k], p.right[p.cursor:])
	p.cursor += k
	pos := float64(p.cursor) / float64(p.sampleRate)
	atEnd := p.cursor >= len(p.left)
	p.mu.Unlock()

	if k > 0 {
		p.notify(func(l Listener) { l.PositionChanged(pos) })
	}
	if atEnd {
		p.post(p.stopAtEnd)
	}
	return k
}

func (p *Player) stopAtEnd() {
	p.mu.Lock()
	atEnd := p.cursor >= len(p.left)
	p.mu.Unlock()
	if atEnd {
		p.Stop()
	}
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure behind StateError
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Player) IsPlaying() bool {
	return p.playing.Load()
}

func (p *Player) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate
}

// Position returns the playback position in seconds
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampleRate == 0 {
		return 0
	}
	return float64(p.cursor) / float64(p.sampleRate)
}

// Duration returns the buffer length in seconds
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampleRate == 0 {
		return 0
	}
	return float64(len(p.left)) / float64(p.sampleRate)
}

// Wait blocks until in-flight decodes have finished
func (p *Player) Wait() {
	p.wg.Wait()
}

// Close stops playback, aborts any decode and waits for it to exit
func (p *Player) Close() {
	p.shutdown.Store(true)
	p.Stop()

	p.mu.Lock()
	if p.cancelDecode != nil {
		p.cancelDecode()
		p.cancelDecode = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
}
