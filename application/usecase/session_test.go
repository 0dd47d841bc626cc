package usecase

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/channel-stacker/application/project"
	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/internal/mocks"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/Skryldev/channel-stacker/pkg/progress"
	"github.com/google/uuid"
)

func syncPost(f func()) { f() }

type fakeWatcher struct {
	mu       sync.Mutex
	onChange func(string)
	watched  map[string]int
	closed   bool
}

func (w *fakeWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path]++
	return nil
}

func (w *fakeWatcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path]--
}

func (w *fakeWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWatcher) count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path]
}

func newTestSession(t *testing.T, exec *mocks.MockFFmpegExecutor, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Executor: exec,
		Storage:  &mocks.MockStorageProvider{},
		Logger:   logger.Nop(),
		Post:     syncPost,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func settle(s *Session) { s.Wait() }

func filterGraph(t *testing.T, cmd model.ExportCommand) string {
	t.Helper()
	for i, a := range cmd.Args {
		if a == "-filter_complex" && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	t.Fatalf("no filter graph in %v", cmd.Args)
	return ""
}

func TestNewSessionRequiresPorts(t *testing.T) {
	if _, err := NewSession(Config{Storage: &mocks.MockStorageProvider{}, Logger: logger.Nop()}); err == nil {
		t.Error("missing executor accepted")
	}
	if _, err := NewSession(Config{Executor: &mocks.MockFFmpegExecutor{}, Logger: logger.Nop()}); err == nil {
		t.Error("missing storage accepted")
	}
}

func TestAddFileStacksEveryChannel(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{}
	s := newTestSession(t, exec, nil)

	lanes, err := s.AddFile(context.Background(), "/media/take.wav")
	if err != nil {
		t.Fatal(err)
	}
	settle(s)

	if len(lanes) != 4 || s.project.Len() != 4 {
		t.Fatalf("lanes = %d, project = %d, want 4", len(lanes), s.project.Len())
	}
	for i, lane := range s.Lanes() {
		if lane.ChannelIndex != i || lane.TotalChannels != 4 || lane.StreamIndex != 0 {
			t.Errorf("lane %d = %+v", i, lane)
		}
		if lane.SourceFile != "/media/take.wav" || lane.SampleRate != 48000 {
			t.Errorf("lane %d source = %s @ %d", i, lane.SourceFile, lane.SampleRate)
		}
		if _, ok := s.project.Waveform(lane.ID); !ok {
			t.Errorf("lane %d has no envelope slot", i)
		}
	}
	if got := s.Lanes()[2].DisplayName; got != "take [0:2]" {
		t.Errorf("display name = %q", got)
	}

	settings := model.DefaultExportSettings()
	settings.Output = "/out/mix"
	cmds, err := s.BuildExport(settings)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}
	if g := filterGraph(t, cmds[0]); !strings.Contains(g, "pan=4c|c0=c0|c1=c1|c2=c2|c3=c3") {
		t.Errorf("graph = %s", g)
	}
	if cmds[0].OutputFile != "/out/mix.wav" {
		t.Errorf("output = %s", cmds[0].OutputFile)
	}
}

func TestAddFileWithoutAudio(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		ProbeFunc: func(context.Context, string) ([]byte, error) {
			return []byte(`{"streams":[]}`), nil
		},
	}
	s := newTestSession(t, exec, nil)

	_, err := s.AddFile(context.Background(), "/media/silence.mp4")
	if _, ok := pkgerrors.As[*pkgerrors.ValidationError](err); !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if s.project.Len() != 0 {
		t.Errorf("project has %d lanes", s.project.Len())
	}
}

func TestAddFileMissingProbe(t *testing.T) {
	s := newTestSession(t, &mocks.MockFFmpegExecutor{NoFFprobe: true}, nil)

	_, err := s.AddFile(context.Background(), "/media/take.wav")
	if _, ok := pkgerrors.As[*pkgerrors.ToolMissingError](err); !ok {
		t.Fatalf("err = %v, want ToolMissingError", err)
	}
}

func TestRemoveLaneJoinsExtraction(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(ctx context.Context, _ []string) (io.ReadCloser, error) {
			return mocks.BlockingStream(ctx), nil
		},
	}
	s := newTestSession(t, exec, nil)

	lanes, err := s.AddFile(context.Background(), "/media/take.wav")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.extractor.Active(); got != 4 {
		t.Fatalf("active extractions = %d, want 4", got)
	}

	removed, ok := s.RemoveLane(1)
	if !ok || removed.ID != lanes[1].ID {
		t.Fatalf("removed = %+v, %v", removed, ok)
	}
	if got := s.extractor.Active(); got != 3 {
		t.Errorf("active extractions = %d, want 3", got)
	}
	if _, ok := s.project.Waveform(removed.ID); ok {
		t.Error("envelope of removed lane still present")
	}
	if s.project.IndexOf(removed.ID) != -1 || s.project.Len() != 3 {
		t.Error("lane still in project")
	}

	if _, ok := s.RemoveLane(7); ok {
		t.Error("out of range removal reported success")
	}
	if _, ok := s.RemoveLaneByID(lanes[3].ID); !ok {
		t.Error("RemoveLaneByID failed")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := s.extractor.Active(); got != 0 {
		t.Errorf("active after Close = %d", got)
	}
}

func TestMoveLaneReordersExport(t *testing.T) {
	s := newTestSession(t, &mocks.MockFFmpegExecutor{}, nil)
	if _, err := s.AddFile(context.Background(), "/media/take.wav"); err != nil {
		t.Fatal(err)
	}
	settle(s)

	if !s.MoveLane(0, 3) {
		t.Fatal("MoveLane failed")
	}
	if s.MoveLane(0, 9) {
		t.Error("out of range move accepted")
	}
	settle(s)

	settings := model.DefaultExportSettings()
	settings.Output = "/out/mix.wav"
	cmds, err := s.BuildExport(settings)
	if err != nil {
		t.Fatal(err)
	}
	if g := filterGraph(t, cmds[0]); !strings.Contains(g, "pan=4c|c0=c1|c1=c2|c2=c3|c3=c0") {
		t.Errorf("graph = %s", g)
	}
}

func TestExportMonoFiles(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{}
	var mu sync.Mutex
	done := 0
	s := newTestSession(t, exec, func(c *Config) {
		c.Reporter = progress.FuncReporter(func(u progress.Update) {
			if u.Stage == progress.StageDone {
				mu.Lock()
				done++
				mu.Unlock()
			}
		})
	})
	if _, err := s.AddFile(context.Background(), "/media/take.wav"); err != nil {
		t.Fatal(err)
	}
	settle(s)

	settings := model.DefaultExportSettings()
	settings.Mode = model.ModeMonoFiles
	settings.Output = "/out/stems"
	outcomes, err := s.Export(context.Background(), settings)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	for i, o := range outcomes {
		if !o.OK() {
			t.Errorf("outcome %d = %+v", i, o)
		}
	}
	if outcomes[0].OutputFile != "/out/stems/channel_01_take.wav" {
		t.Errorf("first output = %s", outcomes[0].OutputFile)
	}
	if got := len(exec.ExecutedArgs()); got != 4 {
		t.Errorf("ffmpeg runs = %d, want 4", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if done != 4 {
		t.Errorf("done updates = %d, want 4", done)
	}
}

func TestExportEmptyStack(t *testing.T) {
	s := newTestSession(t, &mocks.MockFFmpegExecutor{}, nil)
	settings := model.DefaultExportSettings()
	settings.Output = "/out/mix.wav"
	if _, err := s.Export(context.Background(), settings); err == nil {
		t.Error("export of an empty stack succeeded")
	}
}

func TestSourceChangeReextracts(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{}
	fw := &fakeWatcher{watched: make(map[string]int)}
	s := newTestSession(t, exec, func(c *Config) {
		c.NewWatcher = func(onChange func(string)) (Watcher, error) {
			fw.onChange = onChange
			return fw, nil
		}
	})

	if _, err := s.AddFile(context.Background(), "/media/take.wav"); err != nil {
		t.Fatal(err)
	}
	settle(s)
	if got := fw.count("/media/take.wav"); got != 4 {
		t.Errorf("watch refs = %d, want 4", got)
	}

	before := len(exec.StreamedArgs())
	fw.onChange("/media/take.wav")
	settle(s)
	// four envelopes and one preview decode
	if got := len(exec.StreamedArgs()) - before; got != 5 {
		t.Errorf("decodes after change = %d, want 5", got)
	}

	before = len(exec.StreamedArgs())
	fw.onChange("/media/other.wav")
	settle(s)
	if got := len(exec.StreamedArgs()) - before; got != 0 {
		t.Errorf("unrelated change started %d decodes", got)
	}

	s.RemoveLane(0)
	if got := fw.count("/media/take.wav"); got != 3 {
		t.Errorf("watch refs after removal = %d, want 3", got)
	}

	s.Clear()
	if got := fw.count("/media/take.wav"); got != 0 {
		t.Errorf("watch refs after Clear = %d", got)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !fw.closed {
		t.Error("watcher not closed")
	}
}

// levelStream serves a two-frame mono signal whose peak can be changed
type levelStream struct {
	mu    sync.Mutex
	level float32
}

func (l *levelStream) set(v float32) {
	l.mu.Lock()
	l.level = v
	l.mu.Unlock()
}

func (l *levelStream) stream(context.Context, []string) (io.ReadCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(mocks.PCM(l.level, -l.level))), nil
}

func monoLane() model.Lane {
	return model.NewLanes("/media/mono.wav", model.AudioStreamInfo{Channels: 1, SampleRate: 48000})[0]
}

func TestWaveformListenerRemovesLane(t *testing.T) {
	src := &levelStream{level: 0.5}
	s := newTestSession(t, &mocks.MockFFmpegExecutor{StreamFunc: src.stream}, nil)

	removed := make(chan bool, 1)
	s.project.AddListener(&project.ListenerFuncs{
		OnWaveform: func(id uuid.UUID) {
			_, ok := s.RemoveLaneByID(id)
			removed <- ok
		},
	})

	if _, err := s.AddStream("/media/mono.wav", model.AudioStreamInfo{Channels: 1, SampleRate: 48000}); err != nil {
		t.Fatal(err)
	}

	select {
	case ok := <-removed:
		if !ok {
			t.Error("listener could not remove its lane")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("removing a lane from its waveform listener did not return")
	}
	settle(s)
	if s.project.Len() != 0 {
		t.Errorf("lanes = %d, want 0", s.project.Len())
	}
	if got := s.extractor.Active(); got != 0 {
		t.Errorf("active extractions = %d", got)
	}
}

func TestLateWaveformDropped(t *testing.T) {
	src := &levelStream{level: 0.5}
	var (
		qmu   sync.Mutex
		queue []func()
	)
	s := newTestSession(t, &mocks.MockFFmpegExecutor{StreamFunc: src.stream}, func(c *Config) {
		c.Post = func(f func()) {
			qmu.Lock()
			queue = append(queue, f)
			qmu.Unlock()
		}
	})

	lane := monoLane()
	s.project.AddLane(lane)
	s.extract(lane)
	settle(s)
	src.set(0.25)
	s.extract(lane)
	settle(s)

	qmu.Lock()
	pending := append([]func(){}, queue...)
	qmu.Unlock()
	if len(pending) != 2 {
		t.Fatalf("posted results = %d, want 2", len(pending))
	}
	// deliver the newer result first
	pending[1]()
	pending[0]()

	env, _ := s.project.Waveform(lane.ID)
	if !env.Ready || env.Max[0] != 0.25 {
		t.Errorf("envelope = %+v, want the second extraction", env)
	}
}

func TestEmptyReextractionKeepsWaveform(t *testing.T) {
	src := &levelStream{level: 0.5}
	s := newTestSession(t, &mocks.MockFFmpegExecutor{StreamFunc: src.stream}, nil)

	lane := monoLane()
	s.project.AddLane(lane)
	s.extract(lane)
	settle(s)
	first, _ := s.project.Waveform(lane.ID)
	if !first.Ready {
		t.Fatalf("first envelope = %+v", first)
	}

	src.set(0)
	s.extract(lane)
	settle(s)
	if env, _ := s.project.Waveform(lane.ID); env != first {
		t.Errorf("envelope replaced by %+v", env)
	}
}
