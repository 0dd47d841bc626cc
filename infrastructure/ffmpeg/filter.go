package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterGraphBuilder constructs an ffmpeg -filter_complex string out of
// labeled chains joined by ';'.
type FilterGraphBuilder struct {
	chains []string
}

func NewFilterGraphBuilder() *FilterGraphBuilder {
	return &FilterGraphBuilder{}
}

// AddChain appends "[in...]filter[out...]"
func (b *FilterGraphBuilder) AddChain(inputs []string, filter string, outputs []string) *FilterGraphBuilder {
	var sb strings.Builder
	for _, in := range inputs {
		sb.WriteString(Label(in))
	}
	sb.WriteString(filter)
	for _, out := range outputs {
		sb.WriteString(Label(out))
	}
	b.chains = append(b.chains, sb.String())
	return b
}

// AddPanMono selects one source channel into a mono stream
func (b *FilterGraphBuilder) AddPanMono(input string, channel int, output string) *FilterGraphBuilder {
	return b.AddChain([]string{input}, PanMono(channel), []string{output})
}

// AddPanMap selects several source channels, in order, into one stream
func (b *FilterGraphBuilder) AddPanMap(input string, channels []int, output string) *FilterGraphBuilder {
	return b.AddChain([]string{input}, PanMap(channels), []string{output})
}

// AddSplit duplicates one stream into len(outputs) taps
func (b *FilterGraphBuilder) AddSplit(input string, outputs []string) *FilterGraphBuilder {
	return b.AddChain([]string{input}, fmt.Sprintf("asplit=%d", len(outputs)), outputs)
}

// AddMerge combines mono streams, in order, into one multichannel stream
func (b *FilterGraphBuilder) AddMerge(inputs []string, output string) *FilterGraphBuilder {
	return b.AddChain(inputs, fmt.Sprintf("amerge=inputs=%d", len(inputs)), []string{output})
}

func (b *FilterGraphBuilder) Build() string {
	return strings.Join(b.chains, ";")
}

func (b *FilterGraphBuilder) IsEmpty() bool {
	return len(b.chains) == 0
}

// Label wraps a pad name in brackets
func Label(name string) string {
	return "[" + name + "]"
}

// StreamSpec addresses audio stream n of input k, e.g. "1:a:0"
func StreamSpec(input, stream int) string {
	return fmt.Sprintf("%d:a:%d", input, stream)
}

// PanMono is the channel-selection filter for a single channel
func PanMono(channel int) string {
	return fmt.Sprintf("pan=mono|c0=c%d", channel)
}

// PanMap routes source channels to output channels 0..n-1
func PanMap(channels []int) string {
	parts := make([]string, 0, len(channels)+1)
	parts = append(parts, "pan="+Layout(len(channels)))
	for out, in := range channels {
		parts = append(parts, fmt.Sprintf("c%d=c%d", out, in))
	}
	return strings.Join(parts, "|")
}

// Layout names a channel layout with n channels
func Layout(n int) string {
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dc", n)
	}
}
