package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show which ffmpeg and ffprobe binaries are used",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStacker(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		info := st.Tools(cmd.Context())
		out := cmd.OutOrStdout()
		printTool := func(name, path, ver string) {
			switch {
			case path == "":
				fmt.Fprintf(out, "%-8s not found\n", name)
			case ver == "":
				fmt.Fprintf(out, "%-8s %s (version unknown)\n", name, path)
			default:
				fmt.Fprintf(out, "%-8s %s\n         %s\n", name, path, ver)
			}
		}
		printTool("ffmpeg", info.FFmpegPath, info.FFmpegVersion)
		printTool("ffprobe", info.FFprobePath, info.FFprobeVersion)

		if info.FFmpegPath == "" || info.FFprobePath == "" {
			return fmt.Errorf("ffmpeg tools missing; install ffmpeg or pass --ffmpeg/--ffprobe")
		}
		return nil
	},
}
