package ffmpeg

import "strconv"

// DecodePCMArgs decodes audio stream n of file to raw interleaved float32 on
// stdout. A positive rate resamples; zero keeps the native rate.
func DecodePCMArgs(file string, stream, rate int) []string {
	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", file,
		"-map", StreamSpec(0, stream),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
	}
	if rate > 0 {
		args = append(args, "-ar", strconv.Itoa(rate))
	}
	return append(args, "-")
}
