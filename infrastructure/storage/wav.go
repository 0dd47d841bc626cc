package storage

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVSink writes a stereo mix to a 16-bit PCM WAV file in blocks
type WAVSink struct {
	file *os.File
	enc  *wav.Encoder
	buf  *audio.IntBuffer
}

// NewWAVSink creates path and prepares it for stereo samples at sampleRate
func NewWAVSink(path string, sampleRate int) (*WAVSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &WAVSink{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, wavBitDepth, 2, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
			SourceBitDepth: wavBitDepth,
		},
	}, nil
}

// Write appends frames; samples outside [-1, 1] are clipped
func (s *WAVSink) Write(left, right []float32) error {
	n := min(len(left), len(right))
	if n == 0 {
		return nil
	}
	data := s.buf.Data[:0]
	for i := 0; i < n; i++ {
		data = append(data, toInt16(left[i]), toInt16(right[i]))
	}
	s.buf.Data = data
	return s.enc.Write(s.buf)
}

// Close finalizes the header and closes the file
func (s *WAVSink) Close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

func toInt16(v float32) int {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int(v * 32767)
}
