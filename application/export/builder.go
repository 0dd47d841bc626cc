package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Skryldev/channel-stacker/domain/model"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	pkgerrors "github.com/Skryldev/channel-stacker/pkg/errors"
)

const outLabel = "out"

// Build synthesizes the transcode invocations that export lanes with the
// given settings. It performs no I/O. Output channel k of every command
// carries the k-th lane it covers, in stack order.
func Build(lanes []model.Lane, settings model.ExportSettings) ([]model.ExportCommand, error) {
	if err := settings.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError("settings", settings.Mode, err.Error())
	}
	if len(lanes) == 0 {
		return nil, pkgerrors.NewValidationError("lanes", 0, "no lanes to export")
	}
	for i, l := range lanes {
		if err := l.Validate(); err != nil {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("lanes[%d]", i), l.DisplayName, err.Error())
		}
	}

	switch settings.Mode {
	case model.ModeMonoFiles:
		return buildMonoFiles(lanes, settings), nil
	case model.ModeStereoPairs:
		return buildStereoPairs(lanes, settings), nil
	default:
		return []model.ExportCommand{buildMultichannel(lanes, settings)}, nil
	}
}

func buildMultichannel(lanes []model.Lane, settings model.ExportSettings) model.ExportCommand {
	positions := make([]int, len(lanes))
	for i := range lanes {
		positions[i] = i
	}
	out := withExtension(settings.Output, settings.Extension())
	return command(lanes, positions, settings, out, true)
}

func buildMonoFiles(lanes []model.Lane, settings model.ExportSettings) []model.ExportCommand {
	cmds := make([]model.ExportCommand, 0, len(lanes))
	for i, l := range lanes {
		name := fmt.Sprintf("channel_%02d_%s.%s", i+1, l.Stem(), settings.Extension())
		out := filepath.Join(settings.Output, name)
		cmds = append(cmds, command([]model.Lane{l}, []int{i}, settings, out, false))
	}
	return cmds
}

func buildStereoPairs(lanes []model.Lane, settings model.ExportSettings) []model.ExportCommand {
	cmds := make([]model.ExportCommand, 0, (len(lanes)+1)/2)
	for i := 0; i < len(lanes); i += 2 {
		// an odd last lane is duplicated to both sides
		j := min(i+1, len(lanes)-1)
		name := fmt.Sprintf("stereo_%02d.%s", len(cmds)+1, settings.Extension())
		out := filepath.Join(settings.Output, name)
		pair := []model.Lane{lanes[i], lanes[j]}
		cmds = append(cmds, command(pair, []int{i, j}, settings, out, false))
	}
	return cmds
}

// command assembles the argument vector for lanes written, in order, to out
func command(lanes []model.Lane, positions []int, settings model.ExportSettings, out string, fastPath bool) model.ExportCommand {
	inputs, graph := filterGraph(lanes, fastPath)

	args := []string{"-v", "error", "-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	args = append(args, "-filter_complex", graph, "-map", ffmpeg.Label(outLabel))
	args = append(args, settings.CodecArgs()...)
	args = append(args, settings.SampleRateArgs()...)
	args = append(args, out)

	return model.ExportCommand{
		Args:       args,
		OutputFile: out,
		Lanes:      positions,
	}
}

type source struct {
	key   model.SourceKey
	input int
	uses  []int
}

// filterGraph returns the input files and a graph producing [out] with one
// channel per lane. Inputs are deduplicated by (file, stream); a source used
// more than once is split into one tap per use.
func filterGraph(lanes []model.Lane, fastPath bool) ([]string, string) {
	var sources []*source
	byKey := make(map[model.SourceKey]*source)
	for i, l := range lanes {
		k := l.SourceKey()
		s, ok := byKey[k]
		if !ok {
			s = &source{key: k, input: len(sources)}
			byKey[k] = s
			sources = append(sources, s)
		}
		s.uses = append(s.uses, i)
	}

	inputs := make([]string, len(sources))
	for i, s := range sources {
		inputs[i] = s.key.File
	}

	g := ffmpeg.NewFilterGraphBuilder()

	if fastPath && len(sources) == 1 {
		channels := make([]int, len(lanes))
		for i, l := range lanes {
			channels[i] = l.ChannelIndex
		}
		g.AddPanMap(ffmpeg.StreamSpec(0, sources[0].key.Stream), channels, outLabel)
		return inputs, g.Build()
	}

	taps := make([]string, len(lanes))
	for _, s := range sources {
		spec := ffmpeg.StreamSpec(s.input, s.key.Stream)
		if len(s.uses) == 1 {
			taps[s.uses[0]] = spec
			continue
		}
		labels := make([]string, len(s.uses))
		for j, lane := range s.uses {
			labels[j] = fmt.Sprintf("s%d_%d", s.input, j)
			taps[lane] = labels[j]
		}
		g.AddSplit(spec, labels)
	}

	if len(lanes) == 1 {
		g.AddPanMono(taps[0], lanes[0].ChannelIndex, outLabel)
		return inputs, g.Build()
	}

	merged := make([]string, len(lanes))
	for i, l := range lanes {
		merged[i] = fmt.Sprintf("m%d", i)
		g.AddPanMono(taps[i], l.ChannelIndex, merged[i])
	}
	g.AddMerge(merged, outLabel)
	return inputs, g.Build()
}

// withExtension replaces the extension of path with ext
func withExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}
