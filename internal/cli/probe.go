package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	channelstacker "github.com/Skryldev/channel-stacker"
	"github.com/spf13/cobra"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe FILE...",
	Short: "List the audio streams of media files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStacker(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		report := make(map[string][]channelstacker.AudioStreamInfo, len(args))
		for _, path := range args {
			streams, err := st.Probe(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			report[path] = streams
		}

		if probeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, path := range args {
			fmt.Fprintf(tw, "%s\n", path)
			streams := report[path]
			if len(streams) == 0 {
				fmt.Fprintf(tw, "  no audio streams\n")
				continue
			}
			fmt.Fprintf(tw, "  STREAM\tCODEC\tCHANNELS\tLAYOUT\tRATE\tDURATION\n")
			for _, s := range streams {
				fmt.Fprintf(tw, "  %d\t%s\t%d\t%s\t%d\t%.2fs\n",
					s.StreamIndex, s.Codec, s.Channels, s.ChannelLayout, s.SampleRate, s.Duration)
			}
		}
		return tw.Flush()
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print JSON")
}
