package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	channelstacker "github.com/Skryldev/channel-stacker"
	"github.com/spf13/cobra"
)

var (
	waveformPoints int
	waveformWidth  int
	waveformOrder  string
	waveformJSON   bool
)

var waveformCmd = &cobra.Command{
	Use:   "waveform SOURCE...",
	Short: "Compute the min/max waveform of every lane",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStacker(func(c *channelstacker.Config) {
			if waveformPoints > 0 {
				c.EnvelopePoints = waveformPoints
			}
		})
		if err != nil {
			return err
		}
		defer st.Close()

		if err := buildStack(cmd.Context(), st, args, waveformOrder); err != nil {
			return err
		}
		st.Wait()

		type laneWaveform struct {
			Lane   string    `json:"lane"`
			Ready  bool      `json:"ready"`
			Points int       `json:"points"`
			Min    []float32 `json:"min,omitempty"`
			Max    []float32 `json:"max,omitempty"`
		}
		var all []laneWaveform
		for _, lane := range st.Lanes() {
			lw := laneWaveform{Lane: lane.DisplayName}
			if env, ok := st.Waveform(lane.ID); ok && env != nil {
				lw.Ready, lw.Points, lw.Min, lw.Max = env.Ready, env.NumPoints, env.Min, env.Max
			}
			all = append(all, lw)
		}

		if waveformJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(all)
		}

		out := cmd.OutOrStdout()
		for i, lw := range all {
			if !lw.Ready {
				fmt.Fprintf(out, "%2d %-24s (no waveform)\n", i, lw.Lane)
				continue
			}
			fmt.Fprintf(out, "%2d %-24s %s peak %.3f\n", i, lw.Lane,
				sparkline(lw.Min, lw.Max, waveformWidth), peak(lw.Min, lw.Max))
		}
		return nil
	},
}

func init() {
	f := waveformCmd.Flags()
	f.IntVar(&waveformPoints, "points", 0, "envelope resolution (default from CHANNELSTACKER_ENVELOPE_POINTS)")
	f.IntVar(&waveformWidth, "width", 48, "characters per overview line")
	f.StringVar(&waveformOrder, "order", "", "comma separated lane positions to keep, in output order")
	f.BoolVar(&waveformJSON, "json", false, "print the full envelopes as JSON")
}

var levels = []rune(" ▁▂▃▄▅▆▇█")

// sparkline folds an envelope into width columns of block characters
func sparkline(lo, hi []float32, width int) string {
	n := min(len(lo), len(hi))
	if n == 0 || width <= 0 {
		return ""
	}
	width = min(width, n)
	p := peak(lo, hi)
	if p == 0 {
		return strings.Repeat(string(levels[0]), width)
	}

	var sb strings.Builder
	for col := 0; col < width; col++ {
		start, end := col*n/width, (col+1)*n/width
		var m float64
		for i := start; i < end; i++ {
			m = max(m, math.Abs(float64(lo[i])), math.Abs(float64(hi[i])))
		}
		idx := int(math.Round(m / p * float64(len(levels)-1)))
		sb.WriteRune(levels[idx])
	}
	return sb.String()
}

func peak(lo, hi []float32) float64 {
	var p float64
	for i, n := 0, min(len(lo), len(hi)); i < n; i++ {
		p = max(p, math.Abs(float64(lo[i])), math.Abs(float64(hi[i])))
	}
	return p
}
