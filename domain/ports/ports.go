package ports

import (
	"context"
	"io"
)

// FFmpegExecutor is the abstraction over the probe and transcode tools
type FFmpegExecutor interface {
	// FFmpegAvailable reports whether the transcode tool was located
	FFmpegAvailable() bool

	// FFprobeAvailable reports whether the probe tool was located
	FFprobeAvailable() bool

	// Execute runs ffmpeg and returns its combined stdout/stderr
	Execute(ctx context.Context, args []string) ([]byte, error)

	// Stream starts ffmpeg and returns its stdout. Close waits for the
	// process to exit; canceling ctx kills it.
	Stream(ctx context.Context, args []string) (io.ReadCloser, error)

	// Probe runs ffprobe over the audio streams of inputPath and returns JSON output
	Probe(ctx context.Context, inputPath string) ([]byte, error)
}

// StorageProvider abstracts filesystem operations
type StorageProvider interface {
	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns file size in bytes
	Size(ctx context.Context, path string) (int64, error)

	// Remove deletes a file
	Remove(ctx context.Context, path string) error

	// MkdirAll creates a directory and any missing parents
	MkdirAll(ctx context.Context, dir string) error
}
