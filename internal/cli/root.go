package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	channelstacker "github.com/Skryldev/channel-stacker"
	"github.com/spf13/cobra"
)

var version = "0.3.0"

var (
	envFile     string
	ffmpegPath  string
	ffprobePath string
	logLevel    string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "channelstacker",
	Short: "Stack channels from audio files and export them through ffmpeg",
	Long: `channelstacker builds an ordered stack of lanes, one per channel of an
audio stream, from any media files ffmpeg can read. The stack can be rendered
as a stereo preview or exported as a multichannel file, as mono files or as
stereo pairs.

Sources are given as FILE or FILE#STREAM, where STREAM is the index among the
file's audio streams (default: the first one).`,
	SilenceUsage: true,
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "file with CHANNELSTACKER_* settings")
	pf.StringVar(&ffmpegPath, "ffmpeg", "", "path to the ffmpeg binary")
	pf.StringVar(&ffprobePath, "ffprobe", "", "path to the ffprobe binary")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "development logging at debug level")

	rootCmd.SetVersionTemplate("channelstacker version {{.Version}}\n")
	rootCmd.Version = version

	rootCmd.AddCommand(toolsCmd, probeCmd, waveformCmd, exportCmd, previewCmd)
}

// newStacker builds a Stacker from the environment, the env file and the
// global flags. Background results are applied synchronously so Wait
// leaves the stack fully up to date.
func newStacker(mutate func(*channelstacker.Config)) (*channelstacker.Stacker, error) {
	cfg := channelstacker.LoadConfig(envFile)
	if ffmpegPath != "" {
		cfg.FFmpegPath = ffmpegPath
	}
	if ffprobePath != "" {
		cfg.FFprobePath = ffprobePath
	}

	switch {
	case verbose:
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	case logLevel != "":
		cfg.Log.Level = logLevel
	case cfg.Log.Level == "info":
		// keep the terminal for command output
		cfg.Log.Level = "warn"
	}

	cfg.Post = func(f func()) { f() }
	cfg.WatchSources = false
	if mutate != nil {
		mutate(&cfg)
	}
	return channelstacker.New(cfg)
}
