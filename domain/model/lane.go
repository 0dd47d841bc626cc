package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultEnvelopePoints is the target waveform resolution per lane
const DefaultEnvelopePoints = 4000

// FallbackSampleRate is used when a stream does not report its rate
const FallbackSampleRate = 48000

// Lane is one channel of one audio stream, positioned in the stack.
// Lanes are plain values; the project model owns the authoritative list.
type Lane struct {
	ID            uuid.UUID
	SourceFile    string
	StreamIndex   int // audio-relative, addressed as 0:a:<StreamIndex>
	ChannelIndex  int
	TotalChannels int
	SampleRate    int // Hz, 0 if unknown
	DisplayName   string
}

// SourceKey identifies the (file, stream) pair a lane reads from.
type SourceKey struct {
	File   string
	Stream int
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%s:%d", k.File, k.Stream)
}

// SourceKey returns the deduplication key for the lane's input stream
func (l Lane) SourceKey() SourceKey {
	return SourceKey{File: l.SourceFile, Stream: l.StreamIndex}
}

// DecodeRate is the rate the lane's stream should be decoded at
func (l Lane) DecodeRate() int {
	if l.SampleRate > 0 {
		return l.SampleRate
	}
	return FallbackSampleRate
}

// Stem returns the source file name without directory or extension
func (l Lane) Stem() string {
	base := filepath.Base(l.SourceFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Validate checks the channel addressing invariants
func (l Lane) Validate() error {
	if l.SourceFile == "" {
		return fmt.Errorf("lane %s: empty source file", l.ID)
	}
	if l.TotalChannels <= 0 {
		return fmt.Errorf("lane %s: total channels must be positive, got %d", l.ID, l.TotalChannels)
	}
	if l.ChannelIndex < 0 || l.ChannelIndex >= l.TotalChannels {
		return fmt.Errorf("lane %s: channel index %d out of range [0,%d)", l.ID, l.ChannelIndex, l.TotalChannels)
	}
	if l.StreamIndex < 0 {
		return fmt.Errorf("lane %s: negative stream index %d", l.ID, l.StreamIndex)
	}
	return nil
}

// NewLanes creates one lane per channel of the given stream
func NewLanes(sourceFile string, stream AudioStreamInfo) []Lane {
	base := filepath.Base(sourceFile)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	lanes := make([]Lane, 0, stream.Channels)
	for ch := 0; ch < stream.Channels; ch++ {
		lanes = append(lanes, Lane{
			ID:            uuid.New(),
			SourceFile:    sourceFile,
			StreamIndex:   stream.StreamIndex,
			ChannelIndex:  ch,
			TotalChannels: stream.Channels,
			SampleRate:    stream.SampleRate,
			DisplayName:   fmt.Sprintf("%s [%d:%d]", stem, stream.StreamIndex, ch),
		})
	}
	return lanes
}

// WaveformEnvelope is a min/max reduction of one lane's channel.
// Values are in the source's float range and are not clamped.
type WaveformEnvelope struct {
	Min       []float32
	Max       []float32
	NumPoints int
	Ready     bool
}

// AudioStreamInfo describes one audio stream found by probing
type AudioStreamInfo struct {
	StreamIndex   int // ordinal among the file's audio streams
	GlobalIndex   int // container-wide index as reported by ffprobe
	Channels      int
	SampleRate    int
	Codec         string
	ChannelLayout string
	Duration      float64 // seconds
	BitRate       int64
}
