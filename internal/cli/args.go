package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	channelstacker "github.com/Skryldev/channel-stacker"
)

type source struct {
	path   string
	stream int // -1 for the first audio stream
}

// parseSource splits "FILE#STREAM". A '#' not followed by a number is part
// of the file name.
func parseSource(arg string) source {
	if i := strings.LastIndexByte(arg, '#'); i > 0 && i < len(arg)-1 {
		if n, err := strconv.Atoi(arg[i+1:]); err == nil && n >= 0 {
			return source{path: arg[:i], stream: n}
		}
	}
	return source{path: arg, stream: -1}
}

// parseOrder reads a comma separated list of stack positions. Every
// position must be in [0,n) and appear at most once; positions left out
// are dropped from the stack.
func parseOrder(spec string, n int) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var order []int
	for _, part := range strings.Split(spec, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid lane %q in --order", part)
		}
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("lane %d out of range, the stack has %d lanes", idx, n)
		}
		if seen[idx] {
			return nil, fmt.Errorf("lane %d listed twice in --order", idx)
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order, nil
}

func parseMode(s string) (channelstacker.ExportMode, error) {
	switch strings.ToLower(s) {
	case "multichannel", "multi":
		return channelstacker.ModeMultichannel, nil
	case "mono", "mono-files":
		return channelstacker.ModeMonoFiles, nil
	case "stereo-pairs", "pairs", "stereo":
		return channelstacker.ModeStereoPairs, nil
	}
	return "", fmt.Errorf("unknown mode %q (multichannel, mono, stereo-pairs)", s)
}

func parseCodec(s string) (channelstacker.Codec, error) {
	c := channelstacker.Codec(strings.ToLower(s))
	switch c {
	case channelstacker.CodecPCM, channelstacker.CodecFLAC, channelstacker.CodecALAC,
		channelstacker.CodecMP3, channelstacker.CodecAAC, channelstacker.CodecVorbis,
		channelstacker.CodecOpus:
		return c, nil
	case "wav":
		return channelstacker.CodecPCM, nil
	}
	return "", fmt.Errorf("unknown codec %q", s)
}

// buildStack adds every source to st and applies order, if any
func buildStack(ctx context.Context, st *channelstacker.Stacker, args []string, order string) error {
	for _, arg := range args {
		src := parseSource(arg)
		if src.stream < 0 {
			if _, err := st.AddFile(ctx, src.path); err != nil {
				return fmt.Errorf("%s: %w", src.path, err)
			}
			continue
		}

		streams, err := st.Probe(ctx, src.path)
		if err != nil {
			return fmt.Errorf("%s: %w", src.path, err)
		}
		if src.stream >= len(streams) {
			return fmt.Errorf("%s: no audio stream %d, the file has %d", src.path, src.stream, len(streams))
		}
		if _, err := st.AddStream(src.path, streams[src.stream]); err != nil {
			return fmt.Errorf("%s: %w", src.path, err)
		}
	}

	lanes := st.Lanes()
	positions, err := parseOrder(order, len(lanes))
	if err != nil || positions == nil {
		return err
	}

	keep := make(map[int]bool, len(positions))
	for _, p := range positions {
		keep[p] = true
	}
	for i, lane := range lanes {
		if !keep[i] {
			st.RemoveLaneByID(lane.ID)
		}
	}
	for target, p := range positions {
		from := st.Project().IndexOf(lanes[p].ID)
		st.MoveLane(from, target)
	}
	return nil
}
