package export

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/domain/ports"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single export invocation
const DefaultTimeout = 120 * time.Second

// RunnerConfig configures a Runner
type RunnerConfig struct {
	Timeout time.Duration
	Workers int
	Logger  *logger.Logger
}

// Runner executes built export commands
type Runner struct {
	executor ports.FFmpegExecutor
	storage  ports.StorageProvider
	timeout  time.Duration
	pool     *WorkerPool
	log      *logger.Logger
}

// NewRunner creates a Runner
func NewRunner(executor ports.FFmpegExecutor, storage ports.StorageProvider, cfg RunnerConfig) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	r := &Runner{
		executor: executor,
		storage:  storage,
		timeout:  cfg.Timeout,
		log:      cfg.Logger,
	}
	r.pool = NewWorkerPool(r, cfg.Workers, cfg.Logger)
	return r
}

// Run executes one command and reports its outcome. A failed run has its
// partial output removed. Run logs through the logger carried by ctx when
// there is one.
func (r *Runner) Run(ctx context.Context, cmd model.ExportCommand) model.ExportOutcome {
	outcome := model.ExportOutcome{OutputFile: cmd.OutputFile}
	log := logger.FromContext(ctx, r.log).With(zap.String("output", cmd.OutputFile))

	if err := ctx.Err(); err != nil {
		outcome.ExitCode = -1
		outcome.Err = err
		return outcome
	}
	if !r.executor.FFmpegAvailable() {
		outcome.ExitCode = -1
		outcome.Err = pkgerrors.NewToolMissingError(ffmpeg.FFmpegName)
		return outcome
	}

	if err := r.storage.MkdirAll(ctx, filepath.Dir(cmd.OutputFile)); err != nil {
		outcome.ExitCode = -1
		outcome.Err = pkgerrors.NewValidationError("output", cmd.OutputFile, "cannot create output directory: "+err.Error())
		return outcome
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.executor.Execute(ctx, cmd.Args)
	outcome.Output = string(out)
	if err != nil {
		outcome.ExitCode = pkgerrors.ExitCode(err)
		outcome.Err = err
		if o := pkgerrors.Output(err); o != "" {
			outcome.Output = o
		}
		log.Error("export failed",
			zap.Int("exit_code", outcome.ExitCode),
			zap.String("diagnostics", outcome.Output),
			zap.Error(err),
		)
		if rmErr := r.storage.Remove(context.WithoutCancel(ctx), cmd.OutputFile); rmErr != nil {
			log.Warn("failed to remove partial output", zap.Error(rmErr))
		}
		return outcome
	}

	if size, err := r.storage.Size(ctx, cmd.OutputFile); err == nil {
		outcome.Size = size
	}
	log.Info("export complete",
		zap.Int64("bytes", outcome.Size),
		zap.Duration("took", time.Since(start)),
	)
	return outcome
}

// RunAll runs every command, each independently of the others' failures.
// Outcomes are returned in command order; the error aggregates every failure.
func (r *Runner) RunAll(ctx context.Context, cmds []model.ExportCommand, reporter progress.Reporter) ([]model.ExportOutcome, error) {
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}

	outcomes := make([]model.ExportOutcome, len(cmds))
	var errs error
	done := 0
	for res := range r.pool.Run(ctx, cmds, reporter) {
		outcomes[res.index] = res.outcome
		done++

		u := progress.Update{
			JobID:     jobID(cmds[res.index]),
			Stage:     progress.StageDone,
			Percent:   float64(done) / float64(len(cmds)) * 100,
			Timestamp: time.Now(),
		}
		if !res.outcome.OK() {
			u.Stage = progress.StageFailed
			u.Message = res.outcome.Output
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(res.outcome.OutputFile), res.outcome.Err))
		}
		reporter.Report(u)
	}
	return outcomes, errs
}
