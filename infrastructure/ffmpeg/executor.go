package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"go.uber.org/zap"
)

// waitDelay bounds how long Wait lingers on I/O after the process is killed
const waitDelay = 2 * time.Second

// Executor implements ports.FFmpegExecutor on top of a Locator
type Executor struct {
	locator *Locator
	log     *logger.Logger
}

// ExecutorConfig holds configuration for the FFmpeg executor
type ExecutorConfig struct {
	// Locator resolves tool paths; a default one is created if nil
	Locator *Locator

	// FFmpegPath and FFprobePath pin explicit binaries instead of searching
	FFmpegPath  string
	FFprobePath string

	Logger *logger.Logger
}

// NewExecutor creates a new FFmpeg executor. Missing tools are not an
// error here; callers check FFmpegAvailable / FFprobeAvailable.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	loc := cfg.Locator
	if loc == nil {
		loc = NewLocator()
	}

	if cfg.FFmpegPath != "" && !loc.SetFFmpegPath(cfg.FFmpegPath) {
		return nil, pkgerrors.NewValidationError("ffmpegPath", cfg.FFmpegPath, "ffmpeg binary does not exist")
	}
	if cfg.FFprobePath != "" && !loc.SetFFprobePath(cfg.FFprobePath) {
		return nil, pkgerrors.NewValidationError("ffprobePath", cfg.FFprobePath, "ffprobe binary does not exist")
	}

	log := cfg.Logger
	if log == nil {
		log, _ = logger.New(false)
	}

	return &Executor{
		locator: loc,
		log:     log,
	}, nil
}

// Locator exposes the underlying tool locator
func (e *Executor) Locator() *Locator { return e.locator }

func (e *Executor) FFmpegAvailable() bool  { return e.locator.FFmpegAvailable() }
func (e *Executor) FFprobeAvailable() bool { return e.locator.FFprobeAvailable() }

// Execute runs ffmpeg with the given arguments and returns combined stdout/stderr
func (e *Executor) Execute(ctx context.Context, args []string) ([]byte, error) {
	path := e.locator.FFmpegPath()
	if path == "" {
		return nil, pkgerrors.NewToolMissingError(FFmpegName)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay

	var out syncBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.log.Debug("executing ffmpeg",
		zap.Strings("args", args),
	)

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.NewSpawnError(FFmpegName, err)
	}
	if err := cmd.Wait(); err != nil {
		return out.Bytes(), classify(ctx, FFmpegName, args, out.String(), err)
	}

	return out.Bytes(), nil
}

// Stream starts ffmpeg with stdout piped back to the caller
func (e *Executor) Stream(ctx context.Context, args []string) (io.ReadCloser, error) {
	path := e.locator.FFmpegPath()
	if path == "" {
		return nil, pkgerrors.NewToolMissingError(FFmpegName)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pkgerrors.NewSpawnError(FFmpegName, err)
	}

	s := &stream{ctx: ctx, cmd: cmd, stdout: stdout, args: args}
	cmd.Stderr = &s.stderr

	e.log.Debug("streaming ffmpeg",
		zap.Strings("args", args),
	)

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.NewSpawnError(FFmpegName, err)
	}
	return s, nil
}

// Probe runs ffprobe over the audio streams of inputPath and returns JSON output
func (e *Executor) Probe(ctx context.Context, inputPath string) ([]byte, error) {
	path := e.locator.FFprobePath()
	if path == "" {
		return nil, pkgerrors.NewToolMissingError(FFprobeName)
	}

	args := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_streams",
		"-of", "json",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.NewSpawnError(FFprobeName, err)
	}
	if err := cmd.Wait(); err != nil {
		output := stderr.String()
		if output == "" {
			output = stdout.String()
		}
		return nil, classify(ctx, FFprobeName, args, output, err)
	}

	return stdout.Bytes(), nil
}

type stream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	args   []string

	once sync.Once
	err  error
}

func (s *stream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close releases the pipe and waits for the process to exit.
func (s *stream) Close() error {
	s.once.Do(func() {
		_ = s.stdout.Close()
		if err := s.cmd.Wait(); err != nil {
			s.err = classify(s.ctx, FFmpegName, s.args, s.stderr.String(), err)
		}
	})
	return s.err
}

func classify(ctx context.Context, tool string, args []string, output string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return pkgerrors.NewTimeoutError(tool, output, ctx.Err())
	case ctx.Err() != nil:
		return &pkgerrors.StackerError{Code: pkgerrors.ErrCodeCanceled, Message: tool + " canceled", Cause: ctx.Err()}
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return pkgerrors.NewProcessError(tool, args, exitCode, output, err)
}

// syncBuffer lets stdout and stderr share one buffer safely
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
