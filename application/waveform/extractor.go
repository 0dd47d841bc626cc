package waveform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/domain/ports"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxDecodeBytes caps the raw PCM kept per extraction. Longer input is
	// truncated and the envelope covers only the captured prefix.
	MaxDecodeBytes = 500 * 1024 * 1024

	// ChunkSize is the read size for decoder stdout
	ChunkSize = 64 * 1024

	// GraceWait bounds the wait for the decoder to exit after its output ends
	GraceWait = 5 * time.Second
)

// CompletionFunc receives a finished envelope. It runs on the job's
// goroutine after the job has left the registry, so it may cancel or
// restart extraction for the same lane.
type CompletionFunc func(laneID uuid.UUID, env *model.WaveformEnvelope)

// Config holds Extractor settings. Zero values use the package defaults.
type Config struct {
	Points   int
	MaxBytes int
	Logger   *logger.Logger
}

// Extractor decodes lanes to PCM and reduces them to envelopes. At most one
// job per lane ID is live; a newer request supersedes the older one.
type Extractor struct {
	executor ports.FFmpegExecutor
	points   int
	maxBytes int
	log      *logger.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*job
	wg   sync.WaitGroup
}

type job struct {
	lane model.Lane
	kill context.CancelFunc
	done chan struct{}

	// mu serializes the delivery decision against cancellation
	mu         sync.Mutex
	cancelled  bool
	delivering bool
}

// cancel stops j. A job that has already committed to delivery is left
// alone and reports false.
func (j *job) cancel() bool {
	j.mu.Lock()
	if j.delivering {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	j.mu.Unlock()
	j.kill()
	return true
}

// deliver commits j to invoking its callback unless it was cancelled first
func (j *job) deliver() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return false
	}
	j.delivering = true
	return true
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// New creates an Extractor
func New(executor ports.FFmpegExecutor, cfg Config) *Extractor {
	if cfg.Points <= 0 {
		cfg.Points = model.DefaultEnvelopePoints
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxDecodeBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Extractor{
		executor: executor,
		points:   cfg.Points,
		maxBytes: cfg.MaxBytes,
		log:      cfg.Logger,
		jobs:     make(map[uuid.UUID]*job),
	}
}

// Extract starts an asynchronous extraction for lane, cancelling any job
// already running for the same lane ID. Without ffmpeg it does nothing and
// onComplete never fires.
func (e *Extractor) Extract(lane model.Lane, onComplete CompletionFunc) {
	e.Cancel(lane.ID)

	if !e.executor.FFmpegAvailable() {
		e.log.Debug("ffmpeg unavailable, skipping waveform", zap.Stringer("lane", lane.ID))
		return
	}

	ctx, kill := context.WithCancel(context.Background())
	j := &job{
		lane: lane,
		kill: kill,
		done: make(chan struct{}),
	}

	e.mu.Lock()
	if prev := e.jobs[lane.ID]; prev != nil {
		// a concurrent Extract for the same lane won the race
		prev.cancel()
	}
	e.jobs[lane.ID] = j
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(ctx, j, onComplete)
}

// Cancel stops the job for id, if any. Unless its callback had already
// started, the callback will not fire after Cancel returns.
func (e *Extractor) Cancel(id uuid.UUID) {
	e.mu.Lock()
	j := e.jobs[id]
	delete(e.jobs, id)
	e.mu.Unlock()

	if j != nil {
		j.cancel()
	}
}

// CancelAndWait cancels the job for id and blocks until its goroutine has
// exited. Used before a lane is destroyed. A job whose callback is already
// running is no longer registered, so calling this from the callback
// returns at once.
func (e *Extractor) CancelAndWait(id uuid.UUID) {
	e.mu.Lock()
	j := e.jobs[id]
	delete(e.jobs, id)
	e.mu.Unlock()

	if j == nil {
		return
	}
	j.cancel()
	<-j.done
}

// CancelAll cancels every registered job
func (e *Extractor) CancelAll() {
	e.mu.Lock()
	jobs := make([]*job, 0, len(e.jobs))
	for id, j := range e.jobs {
		jobs = append(jobs, j)
		delete(e.jobs, id)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
}

// Wait blocks until every started job has exited
func (e *Extractor) Wait() {
	e.wg.Wait()
}

// Active returns the number of registered jobs
func (e *Extractor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func (e *Extractor) run(ctx context.Context, j *job, onComplete CompletionFunc) {
	defer e.wg.Done()
	defer close(j.done)
	defer e.release(j)
	defer j.kill()

	lane := j.lane
	log := e.log.With(zap.Stringer("lane", lane.ID), zap.String("file", lane.SourceFile))

	if j.isCancelled() {
		return
	}

	start := time.Now()
	rc, err := e.executor.Stream(ctx, ffmpeg.DecodePCMArgs(lane.SourceFile, lane.StreamIndex, 0))
	if err != nil {
		log.Warn("waveform decode failed to start", zap.Error(err))
		return
	}

	raw, truncated := e.readCapped(ctx, rc)
	if truncated {
		log.Info("waveform input truncated", zap.Int("bytes", len(raw)))
		j.kill()
	}
	closeErr := closeWithin(rc, GraceWait, j.kill)

	if j.isCancelled() {
		log.Debug("waveform extraction cancelled")
		return
	}
	if closeErr != nil && !truncated {
		if len(raw) == 0 {
			log.Warn("waveform decode failed", zap.Error(closeErr))
			return
		}
		log.Warn("waveform decode exited with error, using partial output", zap.Error(closeErr))
	}

	env := Reduce(raw, lane.TotalChannels, lane.ChannelIndex, e.points)

	if !j.deliver() {
		return
	}
	e.release(j)
	log.Debug("waveform ready",
		zap.Int("points", env.NumPoints),
		zap.Duration("took", time.Since(start)),
	)
	if onComplete != nil {
		onComplete(lane.ID, env)
	}
}

// release drops j from the registry unless it has been superseded
func (e *Extractor) release(j *job) {
	e.mu.Lock()
	if e.jobs[j.lane.ID] == j {
		delete(e.jobs, j.lane.ID)
	}
	e.mu.Unlock()
}

// readCapped reads r until EOF, cancellation or the byte cap
func (e *Extractor) readCapped(ctx context.Context, r io.Reader) ([]byte, bool) {
	var buf bytes.Buffer
	chunk := make([]byte, ChunkSize)
	for ctx.Err() == nil {
		n, err := r.Read(chunk)
		if n > 0 {
			room := e.maxBytes - buf.Len()
			if n >= room {
				buf.Write(chunk[:room])
				return buf.Bytes(), true
			}
			buf.Write(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.Debug("waveform read ended", zap.Error(err))
			}
			break
		}
	}
	return buf.Bytes(), false
}

// closeWithin closes rc, killing the process if it has not exited in time
func closeWithin(rc io.Closer, grace time.Duration, kill func()) error {
	done := make(chan error, 1)
	go func() { done <- rc.Close() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		kill()
		return <-done
	}
}
