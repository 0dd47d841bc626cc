package export

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/internal/mocks"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func exportCmd(out string) model.ExportCommand {
	return model.ExportCommand{Args: []string{"-y", "-i", "in.wav", out}, OutputFile: out}
}

func TestRunSuccess(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{}
	store := &mocks.MockStorageProvider{
		SizeFunc: func(context.Context, string) (int64, error) { return 4096, nil },
	}
	var mkdir string
	store.MkdirAllFunc = func(_ context.Context, dir string) error {
		mkdir = dir
		return nil
	}

	r := NewRunner(exec, store, RunnerConfig{})
	out := r.Run(context.Background(), exportCmd("/out/take/mix.wav"))

	if !out.OK() || out.Size != 4096 || out.ExitCode != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if mkdir != "/out/take" {
		t.Errorf("MkdirAll(%q)", mkdir)
	}
	if len(store.Removed()) != 0 {
		t.Errorf("removed %v after success", store.Removed())
	}
}

func TestRunLogsThroughContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctxLog := logger.FromZap(zap.New(core)).With(zap.String("export", "e1"))

	r := NewRunner(&mocks.MockFFmpegExecutor{}, &mocks.MockStorageProvider{}, RunnerConfig{Logger: logger.Nop()})
	outcomes, err := r.RunAll(logger.WithContext(context.Background(), ctxLog),
		[]model.ExportCommand{exportCmd("/out/a.wav"), exportCmd("/out/b.wav")}, nil)
	if err != nil || len(outcomes) != 2 {
		t.Fatalf("RunAll = %v, %v", outcomes, err)
	}

	done := logs.FilterMessage("export complete")
	if done.Len() != 2 {
		t.Fatalf("completions logged = %d, want 2", done.Len())
	}
	for _, e := range done.All() {
		if e.ContextMap()["export"] != "e1" {
			t.Errorf("entry fields = %v", e.ContextMap())
		}
	}
}

func TestRunFailureCarriesDiagnostics(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		ExecuteFunc: func(_ context.Context, args []string) ([]byte, error) {
			msg := "Unknown encoder 'libfoo'"
			return []byte(msg), pkgerrors.NewProcessError("ffmpeg", args, 1, msg, errors.New("exit status 1"))
		},
	}
	store := &mocks.MockStorageProvider{}
	r := NewRunner(exec, store, RunnerConfig{})

	out := r.Run(context.Background(), exportCmd("/out/mix.wav"))
	if out.OK() || out.ExitCode != 1 || out.Output != "Unknown encoder 'libfoo'" {
		t.Errorf("outcome = %+v", out)
	}
	if got := store.Removed(); len(got) != 1 || got[0] != "/out/mix.wav" {
		t.Errorf("removed = %v", got)
	}
}

func TestRunAppliesTimeout(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		ExecuteFunc: func(ctx context.Context, _ []string) ([]byte, error) {
			<-ctx.Done()
			return nil, pkgerrors.NewTimeoutError("ffmpeg", "", ctx.Err())
		},
	}
	r := NewRunner(exec, &mocks.MockStorageProvider{}, RunnerConfig{Timeout: 20 * time.Millisecond})

	out := r.Run(context.Background(), exportCmd("/out/slow.wav"))
	if _, ok := pkgerrors.As[*pkgerrors.TimeoutError](out.Err); !ok {
		t.Errorf("Err = %v", out.Err)
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
}

func TestRunWithoutFFmpeg(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{NoFFmpeg: true}
	out := NewRunner(exec, &mocks.MockStorageProvider{}, RunnerConfig{}).Run(context.Background(), exportCmd("/out/a.wav"))
	if _, ok := pkgerrors.As[*pkgerrors.ToolMissingError](out.Err); !ok {
		t.Errorf("Err = %v", out.Err)
	}
	if len(exec.ExecutedArgs()) != 0 {
		t.Error("ffmpeg executed while missing")
	}
}

func TestRunAllFailuresAreIndependent(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		ExecuteFunc: func(_ context.Context, args []string) ([]byte, error) {
			out := args[len(args)-1]
			if strings.Contains(out, "02") || strings.Contains(out, "04") {
				return []byte("boom"), pkgerrors.NewProcessError("ffmpeg", args, 1, "boom", errors.New("exit status 1"))
			}
			return nil, nil
		},
	}
	r := NewRunner(exec, &mocks.MockStorageProvider{}, RunnerConfig{Workers: 2})

	cmds := []model.ExportCommand{exportCmd("/o/stereo_01.wav"), exportCmd("/o/stereo_02.wav"), exportCmd("/o/stereo_03.wav"), exportCmd("/o/stereo_04.wav")}

	var mu sync.Mutex
	var updates []progress.Update
	reporter := progress.FuncReporter(func(u progress.Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	outcomes, err := r.RunAll(context.Background(), cmds, reporter)
	if len(exec.ExecutedArgs()) != 4 {
		t.Errorf("executed %d commands, want all 4", len(exec.ExecutedArgs()))
	}
	if len(multierr.Errors(err)) != 2 {
		t.Errorf("aggregated errors = %v", err)
	}
	for i, o := range outcomes {
		if o.OutputFile != cmds[i].OutputFile {
			t.Errorf("outcome %d is for %s", i, o.OutputFile)
		}
		wantOK := i == 0 || i == 2
		if o.OK() != wantOK {
			t.Errorf("outcome %d OK = %v", i, o.OK())
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var failed, done int
	var last float64
	for _, u := range updates {
		switch u.Stage {
		case progress.StageFailed:
			failed++
		case progress.StageDone:
			done++
		}
		if u.Stage == progress.StageFailed || u.Stage == progress.StageDone {
			last = u.Percent
		}
	}
	if failed != 2 || done != 2 || last != 100 {
		t.Errorf("progress failed=%d done=%d last=%v", failed, done, last)
	}
}

func TestRunAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(&mocks.MockFFmpegExecutor{}, &mocks.MockStorageProvider{}, RunnerConfig{Workers: 1})
	outcomes, err := r.RunAll(ctx, []model.ExportCommand{exportCmd("/o/a.wav"), exportCmd("/o/b.wav")}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, o := range outcomes {
		if o.OK() {
			t.Errorf("%s succeeded after cancel", o.OutputFile)
		}
	}
}
