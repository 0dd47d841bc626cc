package model

import (
	"fmt"
	"strings"
)

// ExportMode selects the output channel topology
type ExportMode string

const (
	ModeMultichannel ExportMode = "multichannel"
	ModeMonoFiles    ExportMode = "mono"
	ModeStereoPairs  ExportMode = "stereo-pairs"
)

// Codec represents supported output codecs
type Codec string

const (
	CodecPCM    Codec = "pcm"
	CodecFLAC   Codec = "flac"
	CodecALAC   Codec = "alac"
	CodecMP3    Codec = "mp3"
	CodecAAC    Codec = "aac"
	CodecVorbis Codec = "vorbis"
	CodecOpus   Codec = "opus"
)

// IsLossy reports whether the codec ignores bit depth
func (c Codec) IsLossy() bool {
	switch c {
	case CodecMP3, CodecAAC, CodecVorbis, CodecOpus:
		return true
	}
	return false
}

// BitDepth of lossless output. BitDepth32 is 32-bit float where the codec allows it.
type BitDepth int

const (
	BitDepth16 BitDepth = 16
	BitDepth24 BitDepth = 24
	BitDepth32 BitDepth = 32
)

// SampleRate policy. SampleRateOriginal keeps each source's rate.
type SampleRate int

const (
	SampleRateOriginal SampleRate = 0
	SampleRate44100    SampleRate = 44100
	SampleRate48000    SampleRate = 48000
	SampleRate96000    SampleRate = 96000
	SampleRate192000   SampleRate = 192000
)

// ExportSettings is constructed per export request
type ExportSettings struct {
	Mode       ExportMode
	Codec      Codec
	BitDepth   BitDepth
	SampleRate SampleRate

	// Output is the target file for ModeMultichannel and the target
	// directory for the other modes.
	Output string
}

// DefaultExportSettings mirrors the classic 24-bit WAV export
func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		Mode:       ModeMultichannel,
		Codec:      CodecPCM,
		BitDepth:   BitDepth24,
		SampleRate: SampleRateOriginal,
	}
}

// Validate rejects values outside the supported sets
func (s ExportSettings) Validate() error {
	switch s.Mode {
	case ModeMultichannel, ModeMonoFiles, ModeStereoPairs:
	default:
		return fmt.Errorf("unsupported export mode: %q", s.Mode)
	}
	switch s.Codec {
	case CodecPCM, CodecFLAC, CodecALAC, CodecMP3, CodecAAC, CodecVorbis, CodecOpus:
	default:
		return fmt.Errorf("unsupported codec: %q", s.Codec)
	}
	if !s.Codec.IsLossy() {
		switch s.BitDepth {
		case BitDepth16, BitDepth24, BitDepth32:
		default:
			return fmt.Errorf("unsupported bit depth: %d", s.BitDepth)
		}
	}
	switch s.SampleRate {
	case SampleRateOriginal, SampleRate44100, SampleRate48000, SampleRate96000, SampleRate192000:
	default:
		return fmt.Errorf("unsupported sample rate: %d", s.SampleRate)
	}
	if strings.TrimSpace(s.Output) == "" {
		return fmt.Errorf("export output must not be empty")
	}
	return nil
}

// CodecArgs returns the encoder arguments, starting with -c:a
func (s ExportSettings) CodecArgs() []string {
	switch s.Codec {
	case CodecFLAC:
		// FLAC has no float samples; 24 and 32 both encode from s32.
		if s.BitDepth == BitDepth16 {
			return []string{"-c:a", "flac", "-sample_fmt", "s16"}
		}
		return []string{"-c:a", "flac", "-sample_fmt", "s32"}
	case CodecALAC:
		if s.BitDepth == BitDepth16 {
			return []string{"-c:a", "alac", "-sample_fmt", "s16p"}
		}
		return []string{"-c:a", "alac", "-sample_fmt", "s32p"}
	case CodecMP3:
		return []string{"-c:a", "libmp3lame", "-b:a", "320k"}
	case CodecAAC:
		return []string{"-c:a", "aac", "-b:a", "256k"}
	case CodecVorbis:
		return []string{"-c:a", "libvorbis", "-q:a", "6"}
	case CodecOpus:
		return []string{"-c:a", "libopus", "-b:a", "192k"}
	default:
		switch s.BitDepth {
		case BitDepth16:
			return []string{"-c:a", "pcm_s16le"}
		case BitDepth32:
			return []string{"-c:a", "pcm_f32le"}
		default:
			return []string{"-c:a", "pcm_s24le"}
		}
	}
}

// SampleRateArgs returns the -ar flag, or nil to keep the source rate.
// Opus only encodes at 48 kHz and MP3 tops out at 48 kHz, so those codecs
// have their explicit rates adjusted.
func (s ExportSettings) SampleRateArgs() []string {
	rate := s.SampleRate
	switch s.Codec {
	case CodecOpus:
		if rate != SampleRateOriginal {
			rate = SampleRate48000
		}
	case CodecMP3:
		if rate > SampleRate48000 {
			rate = SampleRate48000
		}
	}
	if rate == SampleRateOriginal {
		return nil
	}
	return []string{"-ar", fmt.Sprintf("%d", int(rate))}
}

// Extension returns the output file extension without the dot
func (s ExportSettings) Extension() string {
	switch s.Codec {
	case CodecFLAC:
		return "flac"
	case CodecALAC, CodecAAC:
		return "m4a"
	case CodecMP3:
		return "mp3"
	case CodecVorbis:
		return "ogg"
	case CodecOpus:
		return "opus"
	default:
		return "wav"
	}
}

// ExportCommand is one transcode invocation producing one file
type ExportCommand struct {
	Args       []string // transcode tool arguments, tool path excluded
	OutputFile string
	Lanes      []int // stack positions written by this command
}

// ExportOutcome is the result of running one ExportCommand
type ExportOutcome struct {
	OutputFile string
	ExitCode   int
	Output     string // diagnostic text captured from the tool
	Size       int64
	Err        error
}

// OK reports whether the file was written successfully
func (o ExportOutcome) OK() bool {
	return o.Err == nil && o.ExitCode == 0
}
