package channelstacker

import (
	"context"
	"time"

	"github.com/Skryldev/channel-stacker/application/preview"
	"github.com/Skryldev/channel-stacker/application/project"
	"github.com/Skryldev/channel-stacker/application/usecase"
	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	"github.com/Skryldev/channel-stacker/infrastructure/storage"
	"github.com/Skryldev/channel-stacker/internal/config"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Re-export types for convenient use by callers
type (
	Lane             = model.Lane
	AudioStreamInfo  = model.AudioStreamInfo
	WaveformEnvelope = model.WaveformEnvelope
	ExportSettings   = model.ExportSettings
	ExportMode       = model.ExportMode
	ExportCommand    = model.ExportCommand
	ExportOutcome    = model.ExportOutcome
	Codec            = model.Codec
	BitDepth         = model.BitDepth
	SampleRate       = model.SampleRate
	ProgressUpdate   = progress.Update
	ProgressReporter = progress.Reporter
	ProgressFunc     = progress.FuncReporter
	ProgressStage    = progress.Stage
	PreviewState     = preview.State
)

const (
	ModeMultichannel = model.ModeMultichannel
	ModeMonoFiles    = model.ModeMonoFiles
	ModeStereoPairs  = model.ModeStereoPairs

	CodecPCM    = model.CodecPCM
	CodecFLAC   = model.CodecFLAC
	CodecALAC   = model.CodecALAC
	CodecMP3    = model.CodecMP3
	CodecAAC    = model.CodecAAC
	CodecVorbis = model.CodecVorbis
	CodecOpus   = model.CodecOpus

	StageQueued  = progress.StageQueued
	StageRunning = progress.StageRunning
	StageDone    = progress.StageDone
	StageFailed  = progress.StageFailed
)

// DefaultExportSettings is a 24-bit PCM multichannel export at source rate
var DefaultExportSettings = model.DefaultExportSettings

// Config holds top-level configuration for the stacker
type Config struct {
	// FFmpegPath is the path to ffmpeg binary (auto-detected if empty)
	FFmpegPath string

	// FFprobePath is the path to ffprobe binary (auto-detected if empty)
	FFprobePath string

	// Logger is an optional custom logger. Built from Log if nil.
	Logger *logger.Logger

	// ZapLogger allows passing a *zap.Logger directly
	ZapLogger *zap.Logger

	// Log configures the default logger
	Log logger.Config

	// ProgressCh is an optional channel for receiving export progress.
	// Updates are dropped while it is full.
	ProgressCh chan<- ProgressUpdate

	// Reporter, when set, receives every export progress update
	Reporter ProgressReporter

	// Workers sets the number of parallel ffmpeg exports (default: 4)
	Workers int

	ProbeTimeout   time.Duration
	ExportTimeout  time.Duration
	EnvelopePoints int

	// WatchSources re-reads lanes whose source file is rewritten
	WatchSources bool

	// Post delivers background results, see usecase.Config
	Post func(f func())
}

// LoadConfig builds a Config from the environment and optional .env files
func LoadConfig(envFiles ...string) Config {
	c := config.Load(envFiles...)
	return Config{
		FFmpegPath:  c.FFmpegPath,
		FFprobePath: c.FFprobePath,
		Log: logger.Config{
			Development: c.Development,
			Level:       c.LogLevel,
			File:        c.LogFile,
			MaxSizeMB:   c.LogMaxSize,
		},
		Workers:        c.Workers,
		ProbeTimeout:   c.ProbeTimeout,
		ExportTimeout:  c.ExportTimeout,
		EnvelopePoints: c.EnvelopePoints,
		WatchSources:   c.WatchSources,
	}
}

// ToolInfo describes the resolved external tools
type ToolInfo struct {
	FFmpegPath     string
	FFprobePath    string
	FFmpegVersion  string
	FFprobeVersion string
}

// Stacker is the main entry point
type Stacker struct {
	session  *usecase.Session
	executor *ffmpeg.Executor
	log      *logger.Logger
}

// New creates a Stacker with an empty lane stack
func New(cfg Config) (*Stacker, error) {
	log := cfg.Logger
	if log == nil && cfg.ZapLogger != nil {
		log = logger.FromZap(cfg.ZapLogger)
	}
	if log == nil {
		var err error
		log, err = logger.NewWithConfig(cfg.Log)
		if err != nil {
			return nil, err
		}
	}

	exec, err := ffmpeg.NewExecutor(ffmpeg.ExecutorConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	sc := usecase.Config{
		Executor:       exec,
		Storage:        storage.NewLocalStorage(),
		Reporter:       newReporter(cfg),
		Logger:         log,
		Workers:        workers,
		ProbeTimeout:   cfg.ProbeTimeout,
		ExportTimeout:  cfg.ExportTimeout,
		EnvelopePoints: cfg.EnvelopePoints,
		Post:           cfg.Post,
	}
	if cfg.WatchSources {
		sc.NewWatcher = func(onChange func(string)) (usecase.Watcher, error) {
			w, err := storage.NewSourceWatcher(onChange, storage.DefaultSettle, log)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}

	session, err := usecase.NewSession(sc)
	if err != nil {
		return nil, err
	}

	if !exec.FFmpegAvailable() {
		log.Warn("ffmpeg not found; waveforms, preview and export are disabled")
	}
	if !exec.FFprobeAvailable() {
		log.Warn("ffprobe not found; files cannot be added")
	}

	return &Stacker{
		session:  session,
		executor: exec,
		log:      log,
	}, nil
}

// Tools reports the resolved ffmpeg and ffprobe binaries
func (s *Stacker) Tools(ctx context.Context) ToolInfo {
	loc := s.executor.Locator()
	return ToolInfo{
		FFmpegPath:     loc.FFmpegPath(),
		FFprobePath:    loc.FFprobePath(),
		FFmpegVersion:  loc.FFmpegVersion(ctx),
		FFprobeVersion: loc.FFprobeVersion(ctx),
	}
}

// Probe lists the audio streams of a media file
func (s *Stacker) Probe(ctx context.Context, path string) ([]AudioStreamInfo, error) {
	return s.session.Probe(ctx, path)
}

// AddFile stacks one lane per channel of the file's first audio stream
func (s *Stacker) AddFile(ctx context.Context, path string) ([]Lane, error) {
	return s.session.AddFile(ctx, path)
}

// AddStream stacks one lane per channel of a specific stream
func (s *Stacker) AddStream(path string, stream AudioStreamInfo) ([]Lane, error) {
	return s.session.AddStream(path, stream)
}

func (s *Stacker) RemoveLane(index int) (Lane, bool)        { return s.session.RemoveLane(index) }
func (s *Stacker) RemoveLaneByID(id uuid.UUID) (Lane, bool) { return s.session.RemoveLaneByID(id) }
func (s *Stacker) MoveLane(from, to int) bool               { return s.session.MoveLane(from, to) }
func (s *Stacker) Clear()                                   { s.session.Clear() }
func (s *Stacker) Lanes() []Lane                            { return s.session.Lanes() }

// Waveform returns the current envelope of a lane
func (s *Stacker) Waveform(id uuid.UUID) (*WaveformEnvelope, bool) {
	return s.session.Project().Waveform(id)
}

// Project exposes the lane model for listeners
func (s *Stacker) Project() *project.Project { return s.session.Project() }

// Preview exposes the stereo preview player
func (s *Stacker) Preview() *preview.Player { return s.session.Player() }

// BuildExport returns the ffmpeg argument vectors without running them
func (s *Stacker) BuildExport(settings ExportSettings) ([]ExportCommand, error) {
	return s.session.BuildExport(settings)
}

// Export runs the export of the current stack
func (s *Stacker) Export(ctx context.Context, settings ExportSettings) ([]ExportOutcome, error) {
	return s.session.Export(ctx, settings)
}

// Wait blocks until background waveform and preview work has finished
func (s *Stacker) Wait() { s.session.Wait() }

// Close stops background work and flushes the logger
func (s *Stacker) Close() error {
	err := s.session.Close()
	_ = s.log.Sync()
	return err
}

// newReporter fans export progress out to every sink cfg names
func newReporter(cfg Config) progress.Reporter {
	fan := progress.NewMultiReporter()
	if cfg.ProgressCh != nil {
		fan.Add(progress.NewChannelReporter(cfg.ProgressCh))
	}
	if cfg.Reporter != nil {
		fan.Add(cfg.Reporter)
	}
	return fan
}
