package export

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"go.uber.org/zap"
)

// result pairs an outcome with the position of its command
type result struct {
	index   int
	outcome model.ExportOutcome
}

// WorkerPool runs export commands concurrently
type WorkerPool struct {
	runner  *Runner
	workers int
	log     *logger.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(r *Runner, workers int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		runner:  r,
		workers: workers,
		log:     log,
	}
}

// Run executes every command and sends outcomes to the returned channel.
// A failing command does not stop the others. The channel is closed when all
// commands are done; commands not yet started when ctx is canceled report
// ctx.Err().
func (wp *WorkerPool) Run(ctx context.Context, cmds []model.ExportCommand, reporter progress.Reporter) <-chan result {
	results := make(chan result, len(cmds))
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		semaphore := make(chan struct{}, wp.workers)

		for _, cmd := range cmds {
			reporter.Report(progress.Update{JobID: jobID(cmd), Stage: progress.StageQueued})
		}

		for i, cmd := range cmds {
			select {
			case <-ctx.Done():
				results <- result{index: i, outcome: model.ExportOutcome{
					OutputFile: cmd.OutputFile,
					ExitCode:   -1,
					Err:        ctx.Err(),
				}}
				continue
			case semaphore <- struct{}{}:
			}

			wg.Add(1)
			go func(i int, cmd model.ExportCommand) {
				defer wg.Done()
				defer func() { <-semaphore }()

				reporter.Report(progress.Update{JobID: jobID(cmd), Stage: progress.StageRunning})
				wp.log.Info("exporting",
					zap.String("output", cmd.OutputFile),
					zap.Ints("lanes", cmd.Lanes),
				)

				results <- result{index: i, outcome: wp.runner.Run(ctx, cmd)}
			}(i, cmd)
		}

		wg.Wait()
	}()

	return results
}

func jobID(cmd model.ExportCommand) string {
	return filepath.Base(cmd.OutputFile)
}
