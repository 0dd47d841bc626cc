package preview

import (
	"encoding/binary"
	"math"
)

// Headroom is the peak a clipping mix is scaled down to
const Headroom = 0.9

// Deinterleave splits raw f32le PCM into one slice per channel. Trailing
// bytes that do not form a whole frame are dropped.
func Deinterleave(raw []byte, channels int) [][]float32 {
	if channels <= 0 {
		return nil
	}
	frames := len(raw) / 4 / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 4
			out[c][f] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	return out
}

// PanGains returns constant-power left/right gains for the lane at index in
// a stack of count lanes. Index 0 is hard left, the last index hard right and
// a single lane sits in the center.
func PanGains(index, count int) (left, right float64) {
	pan := 0.5
	if count > 1 {
		pan = float64(index) / float64(count-1)
	}
	return math.Cos(pan * math.Pi / 2), math.Sin(pan * math.Pi / 2)
}

// MixToStereo pans each tap by its position and sums them. A nil tap
// occupies its pan position but contributes silence.
func MixToStereo(taps [][]float32, frames int) (left, right []float32) {
	left = make([]float32, frames)
	right = make([]float32, frames)
	for i, tap := range taps {
		gl, gr := PanGains(i, len(taps))
		n := min(len(tap), frames)
		for f := 0; f < n; f++ {
			left[f] += tap[f] * float32(gl)
			right[f] += tap[f] * float32(gr)
		}
	}
	return left, right
}

// Normalize scales both channels so the peak lands at Headroom when it
// exceeds unity. It returns the applied gain, 1 when untouched.
func Normalize(left, right []float32) float64 {
	var peak float64
	for _, ch := range [][]float32{left, right} {
		for _, v := range ch {
			if a := math.Abs(float64(v)); a > peak {
				peak = a
			}
		}
	}
	if peak <= 1 {
		return 1
	}

	gain := Headroom / peak
	for _, ch := range [][]float32{left, right} {
		for i, v := range ch {
			ch[i] = float32(float64(v) * gain)
		}
	}
	return gain
}
