package waveform

import (
	"encoding/binary"
	"math"

	"github.com/Skryldev/channel-stacker/domain/model"
)

const bytesPerSample = 4

// Reduce turns raw interleaved f32le PCM into a min/max envelope of one
// channel. Each bucket spans ceil(frames/target) frames, so the point count
// never exceeds target. Extrema are seeded at zero: a bucket holding only
// positive samples reports min 0.
//
// An input with no complete frame yields an empty envelope that is not ready.
func Reduce(raw []byte, totalChannels, channel, target int) *model.WaveformEnvelope {
	env := &model.WaveformEnvelope{}
	if totalChannels <= 0 || target <= 0 {
		return env
	}

	samples := len(raw) / bytesPerSample
	frames := samples / totalChannels
	if frames == 0 {
		return env
	}

	perBucket := (frames + target - 1) / target
	points := (frames + perBucket - 1) / perBucket

	env.Min = make([]float32, points)
	env.Max = make([]float32, points)

	for p := 0; p < points; p++ {
		var lo, hi float32
		start := p * perBucket
		end := min(start+perBucket, frames)
		for f := start; f < end; f++ {
			idx := f*totalChannels + channel
			if channel < 0 || idx >= samples {
				continue
			}
			v := sampleAt(raw, idx)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		env.Min[p] = lo
		env.Max[p] = hi
	}

	env.NumPoints = points
	env.Ready = true
	return env
}

func sampleAt(raw []byte, idx int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(raw[idx*bytesPerSample:]))
}
