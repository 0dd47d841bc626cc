package mocks

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"sync"
)

// MockFFmpegExecutor is a test double for ports.FFmpegExecutor
type MockFFmpegExecutor struct {
	NoFFmpeg  bool
	NoFFprobe bool

	ExecuteFunc func(ctx context.Context, args []string) ([]byte, error)
	StreamFunc  func(ctx context.Context, args []string) (io.ReadCloser, error)
	ProbeFunc   func(ctx context.Context, inputPath string) ([]byte, error)

	mu           sync.Mutex
	executedArgs [][]string
	streamedArgs [][]string
}

func (m *MockFFmpegExecutor) FFmpegAvailable() bool  { return !m.NoFFmpeg }
func (m *MockFFmpegExecutor) FFprobeAvailable() bool { return !m.NoFFprobe }

func (m *MockFFmpegExecutor) Execute(ctx context.Context, args []string) ([]byte, error) {
	m.mu.Lock()
	m.executedArgs = append(m.executedArgs, args)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, args)
	}
	return nil, nil
}

func (m *MockFFmpegExecutor) Stream(ctx context.Context, args []string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.streamedArgs = append(m.streamedArgs, args)
	m.mu.Unlock()
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, args)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (m *MockFFmpegExecutor) Probe(ctx context.Context, inputPath string) ([]byte, error) {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx, inputPath)
	}
	return DefaultProbeResponse(4), nil
}

// ExecutedArgs returns a copy of every Execute argument vector
func (m *MockFFmpegExecutor) ExecutedArgs() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.executedArgs...)
}

// StreamedArgs returns a copy of every Stream argument vector
func (m *MockFFmpegExecutor) StreamedArgs() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.streamedArgs...)
}

// DefaultProbeResponse mimics ffprobe output for a single PCM WAV stream
func DefaultProbeResponse(channels int) []byte {
	resp := map[string]interface{}{
		"streams": []map[string]interface{}{
			{
				"index":          0,
				"codec_name":     "pcm_s24le",
				"sample_rate":    "48000",
				"channels":       channels,
				"channel_layout": "4.0",
				"duration":       "12.500000",
				"bit_rate":       "4608000",
			},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

// PCM encodes interleaved float32 samples as f32le bytes
func PCM(samples ...float32) []byte {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// BlockingStream returns a reader that yields nothing until ctx is done
// (as a killed process would) and then reports EOF.
func BlockingStream(ctx context.Context) io.ReadCloser {
	return &gatedStream{ctx: ctx}
}

// GatedStream returns a reader that waits for gate to close, then yields
// data, regardless of ctx. It models a process that finishes late.
func GatedStream(gate <-chan struct{}, data []byte, closed chan<- struct{}) io.ReadCloser {
	return &gatedStream{gate: gate, r: bytes.NewReader(data), closed: closed}
}

type gatedStream struct {
	ctx    context.Context
	gate   <-chan struct{}
	r      *bytes.Reader
	closed chan<- struct{}
	once   sync.Once
}

func (g *gatedStream) Read(p []byte) (int, error) {
	if g.ctx != nil {
		<-g.ctx.Done()
		return 0, io.EOF
	}
	<-g.gate
	return g.r.Read(p)
}

func (g *gatedStream) Close() error {
	g.once.Do(func() {
		if g.closed != nil {
			close(g.closed)
		}
	})
	return nil
}

// MockStorageProvider is a test double for ports.StorageProvider
type MockStorageProvider struct {
	ExistsFunc   func(ctx context.Context, path string) (bool, error)
	SizeFunc     func(ctx context.Context, path string) (int64, error)
	RemoveFunc   func(ctx context.Context, path string) error
	MkdirAllFunc func(ctx context.Context, dir string) error

	mu      sync.Mutex
	removed []string
}

func (m *MockStorageProvider) Exists(ctx context.Context, path string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, path)
	}
	return true, nil
}

func (m *MockStorageProvider) Size(ctx context.Context, path string) (int64, error) {
	if m.SizeFunc != nil {
		return m.SizeFunc(ctx, path)
	}
	return 1024, nil
}

func (m *MockStorageProvider) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	m.removed = append(m.removed, path)
	m.mu.Unlock()
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}
	return nil
}

func (m *MockStorageProvider) MkdirAll(ctx context.Context, dir string) error {
	if m.MkdirAllFunc != nil {
		return m.MkdirAllFunc(ctx, dir)
	}
	return nil
}

// Removed lists every path passed to Remove
func (m *MockStorageProvider) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}
