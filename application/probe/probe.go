package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/domain/ports"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
	"github.com/Skryldev/channel-stacker/pkg/logger"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single ffprobe invocation
const DefaultTimeout = 30 * time.Second

// ffprobeOutput maps the fields read from `-show_streams -of json`
type ffprobeOutput struct {
	Streams *[]ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index         looseNumber `json:"index"`
	Channels      looseNumber `json:"channels"`
	SampleRate    looseNumber `json:"sample_rate"`
	CodecName     string      `json:"codec_name"`
	ChannelLayout string      `json:"channel_layout"`
	Duration      looseNumber `json:"duration"`
	BitRate       looseNumber `json:"bit_rate"`
	Tags          struct {
		Duration looseNumber `json:"DURATION"`
	} `json:"tags"`
}

// Prober discovers the audio streams of a media file.
// Probe blocks; callers run it off latency-sensitive goroutines.
type Prober struct {
	executor ports.FFmpegExecutor
	storage  ports.StorageProvider
	timeout  time.Duration
	log      *logger.Logger
}

// New creates a Prober. A zero timeout uses DefaultTimeout.
func New(executor ports.FFmpegExecutor, storage ports.StorageProvider, timeout time.Duration, log *logger.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Prober{
		executor: executor,
		storage:  storage,
		timeout:  timeout,
		log:      log,
	}
}

// Probe returns the file's audio streams. A file without audio streams
// yields an empty slice and no error.
func (p *Prober) Probe(ctx context.Context, path string) ([]model.AudioStreamInfo, error) {
	if !p.executor.FFprobeAvailable() {
		return nil, pkgerrors.NewToolMissingError("ffprobe")
	}

	exists, err := p.storage.Exists(ctx, path)
	if err != nil {
		return nil, pkgerrors.NewValidationError("file", path, "failed to check file: "+err.Error())
	}
	if !exists {
		return nil, pkgerrors.NewValidationError("file", path, "file not found")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	data, err := p.executor.Probe(ctx, path)
	if err != nil {
		p.log.Warn("ffprobe failed", zap.String("file", path), zap.Error(err))
		return nil, err
	}

	streams, err := Parse(data)
	if err != nil {
		return nil, err
	}

	p.log.Debug("probed file",
		zap.String("file", path),
		zap.Int("streams", len(streams)),
		zap.Duration("took", time.Since(start)),
	)
	return streams, nil
}

// Parse decodes ffprobe JSON into stream descriptors. Streams are listed in
// the order ffprobe reports them, so a stream's position is its audio ordinal.
func Parse(data []byte) ([]model.AudioStreamInfo, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, pkgerrors.NewParseError("failed to parse ffprobe JSON output", nil)
	}
	if trimmed[0] != '{' {
		return nil, pkgerrors.NewParseError("invalid JSON structure from ffprobe", nil)
	}

	var out ffprobeOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, pkgerrors.NewParseError("failed to parse ffprobe JSON output", err)
	}
	if out.Streams == nil {
		return []model.AudioStreamInfo{}, nil
	}

	streams := make([]model.AudioStreamInfo, 0, len(*out.Streams))
	for i, s := range *out.Streams {
		duration := s.Duration
		if !duration.set {
			duration = s.Tags.Duration
		}
		streams = append(streams, model.AudioStreamInfo{
			StreamIndex:   i,
			GlobalIndex:   int(s.Index.v),
			Channels:      int(s.Channels.v),
			SampleRate:    int(s.SampleRate.v),
			Codec:         s.CodecName,
			ChannelLayout: s.ChannelLayout,
			Duration:      duration.v,
			BitRate:       int64(s.BitRate.v),
		})
	}
	return streams, nil
}

// looseNumber accepts JSON numbers, numeric strings and HH:MM:SS[.frac]
// timestamps. Anything else decodes to zero without failing.
type looseNumber struct {
	v   float64
	set bool
}

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return nil
	}
	n.set = true
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		n.v = v
		return nil
	}
	n.v = parseClock(s)
	return nil
}

// parseClock converts "01:02:03.5" to seconds, 0 if malformed
func parseClock(s string) float64 {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0
		}
		total = total*60 + v
	}
	return total
}
