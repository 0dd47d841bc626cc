package waveform

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/internal/mocks"
	"github.com/google/uuid"
)

func TestReduceBucketCount(t *testing.T) {
	tests := []struct {
		frames, target, wantPoints int
	}{
		{frames: 10, target: 4000, wantPoints: 10},
		{frames: 4000, target: 4000, wantPoints: 4000},
		{frames: 4001, target: 4000, wantPoints: 2001},
		{frames: 10000, target: 4000, wantPoints: 3334},
		{frames: 7, target: 3, wantPoints: 3},
	}
	for _, tt := range tests {
		raw := mocks.PCM(make([]float32, tt.frames*2)...)
		env := Reduce(raw, 2, 1, tt.target)

		perBucket := (tt.frames + tt.target - 1) / tt.target
		if want := (tt.frames + perBucket - 1) / perBucket; env.NumPoints != want {
			t.Errorf("frames=%d: NumPoints = %d, want ceil(frames/perBucket) = %d", tt.frames, env.NumPoints, want)
		}
		if env.NumPoints != tt.wantPoints {
			t.Errorf("frames=%d: NumPoints = %d, want %d", tt.frames, env.NumPoints, tt.wantPoints)
		}
		if env.NumPoints > tt.target {
			t.Errorf("frames=%d: %d points exceeds target %d", tt.frames, env.NumPoints, tt.target)
		}
		if len(env.Min) != env.NumPoints || len(env.Max) != env.NumPoints || !env.Ready {
			t.Errorf("frames=%d: inconsistent envelope %d/%d ready=%v", tt.frames, len(env.Min), len(env.Max), env.Ready)
		}
	}
}

func TestReduceSelectsChannelAndSeedsAtZero(t *testing.T) {
	// 3 channels, 4 frames, 2 points of 2 frames each
	raw := mocks.PCM(
		9, 0.50, -9,
		9, 0.25, -9,
		9, -0.75, -9,
		9, 0.10, -9,
	)
	env := Reduce(raw, 3, 1, 2)

	if env.NumPoints != 2 {
		t.Fatalf("NumPoints = %d", env.NumPoints)
	}
	// bucket 0 holds only positive samples: min is pinned at 0
	if env.Min[0] != 0 || env.Max[0] != 0.5 {
		t.Errorf("bucket 0 = [%v, %v], want [0, 0.5]", env.Min[0], env.Max[0])
	}
	if env.Min[1] != -0.75 || env.Max[1] != 0.1 {
		t.Errorf("bucket 1 = [%v, %v], want [-0.75, 0.1]", env.Min[1], env.Max[1])
	}
}

func TestReduceDegenerateInput(t *testing.T) {
	if env := Reduce(nil, 2, 0, 4000); env.Ready || env.NumPoints != 0 {
		t.Errorf("empty input produced %+v", env)
	}
	if env := Reduce(mocks.PCM(1), 2, 0, 4000); env.Ready {
		t.Error("partial frame should not produce a ready envelope")
	}
	// channel beyond the decoded layout is skipped, not a panic
	env := Reduce(mocks.PCM(0.5, 0.5), 2, 7, 4000)
	if env.NumPoints != 1 || env.Min[0] != 0 || env.Max[0] != 0 {
		t.Errorf("out-of-range channel = %+v", env)
	}
}

func TestDecodeCapConstant(t *testing.T) {
	if MaxDecodeBytes != 500*1024*1024 {
		t.Errorf("MaxDecodeBytes = %d", MaxDecodeBytes)
	}
}

func testLane() model.Lane {
	return model.Lane{
		ID:            uuid.New(),
		SourceFile:    "/media/quad.wav",
		StreamIndex:   0,
		ChannelIndex:  2,
		TotalChannels: 4,
		SampleRate:    48000,
	}
}

func TestExtractDeliversEnvelope(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(context.Context, []string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(mocks.PCM(0, 0, 0.5, 0, 0, 0, -0.5, 0)))), nil
		},
	}
	x := New(exec, Config{})
	lane := testLane()

	var got *model.WaveformEnvelope
	x.Extract(lane, func(id uuid.UUID, env *model.WaveformEnvelope) {
		if id != lane.ID {
			t.Errorf("callback id = %s", id)
		}
		got = env
	})
	x.Wait()

	if got == nil || !got.Ready || got.NumPoints != 2 {
		t.Fatalf("envelope = %+v", got)
	}
	if got.Max[0] != 0.5 || got.Min[1] != -0.5 {
		t.Errorf("envelope values = %v / %v", got.Min, got.Max)
	}
	if x.Active() != 0 {
		t.Errorf("Active = %d after completion", x.Active())
	}

	args := strings.Join(exec.StreamedArgs()[0], " ")
	if args != "-v error -nostdin -i /media/quad.wav -map 0:a:0 -f f32le -acodec pcm_f32le -" {
		t.Errorf("decode args = %q", args)
	}
}

func TestExtractWithoutFFmpegIsSilent(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{NoFFmpeg: true}
	x := New(exec, Config{})

	called := false
	x.Extract(testLane(), func(uuid.UUID, *model.WaveformEnvelope) { called = true })
	x.Wait()

	if called {
		t.Error("callback fired without ffmpeg")
	}
	if len(exec.StreamedArgs()) != 0 {
		t.Error("decoder spawned without ffmpeg")
	}
}

func TestExtractSupersedesPreviousJob(t *testing.T) {
	// both decodes finish only after the gate opens, so the first job
	// completes after it has been superseded
	gate := make(chan struct{})
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(context.Context, []string) (io.ReadCloser, error) {
			return mocks.GatedStream(gate, mocks.PCM(0.25, 0.25, 0.25, 0.25), nil), nil
		},
	}
	x := New(exec, Config{})
	lane := testLane()

	var mu sync.Mutex
	var fired []string
	x.Extract(lane, func(uuid.UUID, *model.WaveformEnvelope) {
		mu.Lock()
		fired = append(fired, "first")
		mu.Unlock()
	})
	x.Extract(lane, func(uuid.UUID, *model.WaveformEnvelope) {
		mu.Lock()
		fired = append(fired, "second")
		mu.Unlock()
	})

	if n := x.Active(); n != 1 {
		t.Errorf("Active = %d, want 1", n)
	}

	close(gate)
	x.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "second" {
		t.Errorf("callbacks fired = %v, want [second]", fired)
	}
}

func TestCancelAndWaitSuppressesCallback(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(ctx context.Context, _ []string) (io.ReadCloser, error) {
			return mocks.BlockingStream(ctx), nil
		},
	}
	x := New(exec, Config{})
	lane := testLane()

	called := false
	x.Extract(lane, func(uuid.UUID, *model.WaveformEnvelope) { called = true })

	done := make(chan struct{})
	go func() {
		x.CancelAndWait(lane.ID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CancelAndWait did not return")
	}
	if called {
		t.Error("cancelled job invoked its callback")
	}
	if x.Active() != 0 {
		t.Errorf("Active = %d", x.Active())
	}
}

func TestCallbackMayRestartItsLane(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(context.Context, []string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(mocks.PCM(0, 0, 0.5, 0)))), nil
		},
	}
	x := New(exec, Config{})
	lane := testLane()

	var calls atomic.Int32
	finished := make(chan struct{})
	var onComplete CompletionFunc
	onComplete = func(id uuid.UUID, _ *model.WaveformEnvelope) {
		if x.Active() != 0 {
			t.Errorf("job still registered during its callback")
		}
		x.CancelAndWait(id)
		if calls.Add(1) == 1 {
			x.Extract(lane, onComplete)
			return
		}
		close(finished)
	}
	x.Extract(lane, onComplete)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("re-entrant callback did not complete")
	}
	x.Wait()
	if got := calls.Load(); got != 2 {
		t.Errorf("callbacks = %d, want 2", got)
	}
}

func TestCancelAll(t *testing.T) {
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(ctx context.Context, _ []string) (io.ReadCloser, error) {
			return mocks.BlockingStream(ctx), nil
		},
	}
	x := New(exec, Config{})

	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		x.Extract(testLane(), func(uuid.UUID, *model.WaveformEnvelope) { fired.Add(1) })
	}
	if x.Active() != 3 {
		t.Fatalf("Active = %d, want 3", x.Active())
	}

	x.CancelAll()
	x.Wait()

	if fired.Load() != 0 {
		t.Errorf("%d callbacks fired after CancelAll", fired.Load())
	}
}

func TestExtractTruncatesAtCap(t *testing.T) {
	// 2 channels, 8 frames of data but a cap of 4 frames
	data := mocks.PCM(
		0.1, 0, 0.2, 0, 0.3, 0, 0.4, 0,
		0.9, 0, 0.9, 0, 0.9, 0, 0.9, 0,
	)
	exec := &mocks.MockFFmpegExecutor{
		StreamFunc: func(context.Context, []string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(data))), nil
		},
	}
	x := New(exec, Config{MaxBytes: 4 * 2 * 4, Points: 100})
	lane := testLane()
	lane.TotalChannels = 2
	lane.ChannelIndex = 0

	var got *model.WaveformEnvelope
	x.Extract(lane, func(_ uuid.UUID, env *model.WaveformEnvelope) { got = env })
	x.Wait()

	if got == nil || got.NumPoints != 4 {
		t.Fatalf("envelope = %+v, want 4 points from the captured prefix", got)
	}
	if got.Max[3] != 0.4 {
		t.Errorf("last captured max = %v, want 0.4", got.Max[3])
	}
}
