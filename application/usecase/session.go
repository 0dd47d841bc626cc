package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/channel-stacker/application/export"
	"github.com/Skryldev/channel-stacker/application/preview"
	"github.com/Skryldev/channel-stacker/application/probe"
	"github.com/Skryldev/channel-stacker/application/project"
	"github.com/Skryldev/channel-stacker/application/waveform"
	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/domain/ports"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Watcher is the subset of a file watcher the session drives
type Watcher interface {
	Watch(path string) error
	Unwatch(path string)
	Close() error
}

// Session ties the project model to probing, waveform extraction, preview
// and export. Mutating methods are meant to be called from one goroutine.
type Session struct {
	project   *project.Project
	prober    *probe.Prober
	extractor *waveform.Extractor
	player    *preview.Player
	runner    *export.Runner

	watcher  Watcher
	post     func(func())
	reporter progress.Reporter
	log      *logger.Logger

	// waveRev numbers extraction requests so late results can be dropped
	waveRev atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// Config holds Session configuration
type Config struct {
	Executor ports.FFmpegExecutor
	Storage  ports.StorageProvider
	Reporter progress.Reporter
	Logger   *logger.Logger

	Workers        int
	ProbeTimeout   time.Duration
	ExportTimeout  time.Duration
	EnvelopePoints int

	// Post delivers background results to the caller's goroutine.
	// Defaults to running f on a new goroutine.
	Post func(f func())

	// NewWatcher, when set, creates a watcher reporting rewritten sources
	NewWatcher func(onChange func(path string)) (Watcher, error)
}

// NewSession creates a Session with an empty stack
func NewSession(cfg Config) (*Session, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("FFmpegExecutor is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("StorageProvider is required")
	}

	log := cfg.Logger
	if log == nil {
		var err error
		log, err = logger.New(false)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}

	post := cfg.Post
	if post == nil {
		post = func(f func()) { go f() }
	}

	s := &Session{
		project: project.New(),
		prober:  probe.New(cfg.Executor, cfg.Storage, cfg.ProbeTimeout, log),
		extractor: waveform.New(cfg.Executor, waveform.Config{
			Points: cfg.EnvelopePoints,
			Logger: log,
		}),
		player: preview.New(cfg.Executor, preview.Config{Post: post, Logger: log}),
		runner: export.NewRunner(cfg.Executor, cfg.Storage, export.RunnerConfig{
			Timeout: cfg.ExportTimeout,
			Workers: cfg.Workers,
			Logger:  log,
		}),
		post:     post,
		reporter: reporter,
		log:      log,
	}

	if cfg.NewWatcher != nil {
		w, err := cfg.NewWatcher(func(path string) {
			post(func() { s.sourceChanged(path) })
		})
		if err != nil {
			s.player.Close()
			return nil, fmt.Errorf("failed to start source watcher: %w", err)
		}
		s.watcher = w
	}
	return s, nil
}

func (s *Session) Project() *project.Project { return s.project }
func (s *Session) Player() *preview.Player   { return s.player }

// Probe lists the audio streams of path
func (s *Session) Probe(ctx context.Context, path string) ([]model.AudioStreamInfo, error) {
	return s.prober.Probe(ctx, path)
}

// AddFile probes path and stacks one lane per channel of its first audio
// stream.
func (s *Session) AddFile(ctx context.Context, path string) ([]model.Lane, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session closed")
	}
	streams, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, pkgerrors.NewValidationError("path", path, "no audio streams")
	}
	if len(streams) > 1 {
		s.log.Info("file has several audio streams, using the first",
			zap.String("file", path),
			zap.Int("streams", len(streams)),
		)
	}
	return s.AddStream(path, streams[0])
}

// AddStream stacks one lane per channel of stream
func (s *Session) AddStream(path string, stream model.AudioStreamInfo) ([]model.Lane, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session closed")
	}
	if stream.Channels <= 0 {
		return nil, pkgerrors.NewValidationError("channels", stream.Channels, "stream has no channels")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	lanes := model.NewLanes(path, stream)
	for _, lane := range lanes {
		s.project.AddLane(lane)
		s.extract(lane)
		if s.watcher != nil {
			if err := s.watcher.Watch(path); err != nil {
				s.log.Warn("cannot watch source", zap.String("file", path), zap.Error(err))
			}
		}
	}

	s.log.Info("lanes added",
		zap.String("file", path),
		zap.Int("stream", stream.StreamIndex),
		zap.Int("channels", stream.Channels),
	)
	s.reloadPreview()
	return lanes, nil
}

// RemoveLane deletes the lane at index. Its extraction is cancelled and
// joined before the lane leaves the project.
func (s *Session) RemoveLane(index int) (model.Lane, bool) {
	lane, ok := s.project.Lane(index)
	if !ok {
		return model.Lane{}, false
	}
	return s.remove(lane)
}

// RemoveLaneByID deletes the lane with the given ID
func (s *Session) RemoveLaneByID(id uuid.UUID) (model.Lane, bool) {
	idx := s.project.IndexOf(id)
	if idx < 0 {
		return model.Lane{}, false
	}
	return s.RemoveLane(idx)
}

func (s *Session) remove(lane model.Lane) (model.Lane, bool) {
	s.extractor.CancelAndWait(lane.ID)
	removed, ok := s.project.RemoveLaneByID(lane.ID)
	if !ok {
		return model.Lane{}, false
	}
	if s.watcher != nil {
		s.watcher.Unwatch(removed.SourceFile)
	}
	s.reloadPreview()
	return removed, true
}

// MoveLane moves the lane at from so that it ends up at to
func (s *Session) MoveLane(from, to int) bool {
	if !s.project.MoveLane(from, to) {
		return false
	}
	s.reloadPreview()
	return true
}

// Clear removes every lane
func (s *Session) Clear() {
	for _, lane := range s.project.Lanes() {
		s.extractor.CancelAndWait(lane.ID)
		if s.watcher != nil {
			s.watcher.Unwatch(lane.SourceFile)
		}
	}
	s.project.Clear()
	s.reloadPreview()
}

// Lanes returns the stack in order
func (s *Session) Lanes() []model.Lane {
	return s.project.Lanes()
}

// BuildExport returns the ffmpeg commands an export would run
func (s *Session) BuildExport(settings model.ExportSettings) ([]model.ExportCommand, error) {
	return export.Build(s.project.Lanes(), settings)
}

// Export builds and runs the export of the current stack. Each command
// runs independently; the error aggregates every failure.
func (s *Session) Export(ctx context.Context, settings model.ExportSettings) ([]model.ExportOutcome, error) {
	cmds, err := s.BuildExport(settings)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.Stringer("export", uuid.New()))
	log.Info("starting export",
		zap.String("mode", string(settings.Mode)),
		zap.String("codec", string(settings.Codec)),
		zap.Int("commands", len(cmds)),
	)
	return s.runner.RunAll(logger.WithContext(ctx, log), cmds, s.reporter)
}

// Wait blocks until running extractions and preview decodes have finished.
// With a synchronous Post every result has been applied when it returns.
func (s *Session) Wait() {
	s.extractor.Wait()
	s.player.Wait()
}

func (s *Session) extract(lane model.Lane) {
	rev := s.waveRev.Add(1)
	s.extractor.Extract(lane, func(id uuid.UUID, env *model.WaveformEnvelope) {
		if env.NumPoints == 0 {
			// nothing decoded; keep what the lane already shows
			s.log.Debug("empty waveform ignored", zap.Stringer("lane", id))
			return
		}
		s.post(func() { s.project.SetWaveformRev(id, env, rev) })
	})
}

func (s *Session) reloadPreview() {
	if s.closed.Load() {
		return
	}
	s.player.LoadLanes(s.project.Lanes())
}

func (s *Session) sourceChanged(path string) {
	if s.closed.Load() {
		return
	}
	n := 0
	for _, lane := range s.project.Lanes() {
		if lane.SourceFile == path {
			s.extract(lane)
			n++
		}
	}
	if n == 0 {
		return
	}
	s.log.Info("re-reading changed source", zap.String("file", path), zap.Int("lanes", n))
	s.reloadPreview()
}

// Close cancels extraction and preview decoding and stops the watcher
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.extractor.CancelAll()
		s.extractor.Wait()
		s.player.Close()
		if s.watcher != nil {
			err = multierr.Append(err, s.watcher.Close())
		}
	})
	return err
}
