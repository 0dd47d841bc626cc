package cli

import (
	"fmt"
	"strings"

	channelstacker "github.com/Skryldev/channel-stacker"
	"github.com/Skryldev/channel-stacker/infrastructure/ffmpeg"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	exportOutput     string
	exportMode       string
	exportCodec      string
	exportBitDepth   int
	exportRate       int
	exportOrder      string
	exportDryRun     bool
	exportNoProgress bool
)

var exportCmd = &cobra.Command{
	Use:   "export SOURCE... -o OUTPUT",
	Short: "Export the lane stack through ffmpeg",
	Long: `Export the lane stack. In multichannel mode OUTPUT is a file and output
channel k carries lane k. In mono and stereo-pairs mode OUTPUT is a directory
receiving one file per lane or per pair of lanes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOutput, "output", "o", "", "output file (multichannel) or directory")
	f.StringVarP(&exportMode, "mode", "m", "multichannel", "multichannel, mono or stereo-pairs")
	f.StringVarP(&exportCodec, "codec", "c", "pcm", "pcm, flac, alac, mp3, aac, vorbis or opus")
	f.IntVar(&exportBitDepth, "bit-depth", 24, "16, 24 or 32 (float) for lossless codecs")
	f.IntVar(&exportRate, "rate", 0, "output sample rate; 0 keeps the source rate")
	f.StringVar(&exportOrder, "order", "", "comma separated lane positions to keep, in output order")
	f.BoolVar(&exportDryRun, "dry-run", false, "print the ffmpeg commands without running them")
	f.BoolVar(&exportNoProgress, "no-progress", false, "do not draw a progress bar")
	_ = exportCmd.MarkFlagRequired("output")
}

func exportSettings() (channelstacker.ExportSettings, error) {
	settings := channelstacker.DefaultExportSettings()

	mode, err := parseMode(exportMode)
	if err != nil {
		return settings, err
	}
	codec, err := parseCodec(exportCodec)
	if err != nil {
		return settings, err
	}
	settings.Mode = mode
	settings.Codec = codec
	settings.BitDepth = channelstacker.BitDepth(exportBitDepth)
	settings.SampleRate = channelstacker.SampleRate(exportRate)
	settings.Output = exportOutput
	return settings, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	settings, err := exportSettings()
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	st, err := newStacker(func(c *channelstacker.Config) {
		c.Reporter = countFinished(func(n int) error {
			if bar == nil {
				return nil
			}
			return bar.Add(n)
		})
	})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if err := buildStack(ctx, st, args, exportOrder); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if exportDryRun {
		cmds, err := st.BuildExport(settings)
		if err != nil {
			return err
		}
		tool := st.Tools(ctx).FFmpegPath
		if tool == "" {
			tool = ffmpeg.FFmpegName
		}
		for _, c := range cmds {
			fmt.Fprintln(out, shellJoin(append([]string{tool}, c.Args...)))
		}
		return nil
	}

	if !exportNoProgress {
		total := len(st.Lanes())
		switch settings.Mode {
		case channelstacker.ModeMultichannel:
			total = 1
		case channelstacker.ModeStereoPairs:
			total = (total + 1) / 2
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("exporting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		)
	}

	outcomes, exportErr := st.Export(ctx, settings)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	for _, o := range outcomes {
		if o.OK() {
			fmt.Fprintf(out, "ok      %s (%d bytes)\n", o.OutputFile, o.Size)
			continue
		}
		fmt.Fprintf(out, "failed  %s (exit %d)\n", o.OutputFile, o.ExitCode)
		if diag := strings.TrimSpace(o.Output); diag != "" {
			for _, line := range strings.Split(diag, "\n") {
				fmt.Fprintf(out, "        %s\n", line)
			}
		}
	}
	return exportErr
}

// countFinished calls add once per command that has finished, whether it
// succeeded or not
func countFinished(add func(int) error) channelstacker.ProgressReporter {
	return channelstacker.ProgressFunc(func(u channelstacker.ProgressUpdate) {
		if u.Stage == channelstacker.StageDone || u.Stage == channelstacker.StageFailed {
			_ = add(1)
		}
	})
}

// shellJoin quotes args for display in a POSIX shell
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`|&;<>()[]*?#~!{}") {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
