package cli

import (
	"errors"
	"fmt"

	"github.com/Skryldev/channel-stacker/application/preview"
	"github.com/Skryldev/channel-stacker/infrastructure/storage"
	"github.com/spf13/cobra"
)

var (
	previewOutput string
	previewOrder  string
)

// frames pulled per block, about 20 ms at 48 kHz
const previewBlock = 1024

var previewCmd = &cobra.Command{
	Use:   "preview SOURCE... -o preview.wav",
	Short: "Render the stereo preview mix of the lane stack to a WAV file",
	Long: `Render the stereo preview mix to a 16-bit WAV file. Lanes are panned
from hard left to hard right in stack order with constant power, and the mix
is scaled down when it would clip.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStacker(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := buildStack(cmd.Context(), st, args, previewOrder); err != nil {
			return err
		}
		st.Wait()

		player := st.Preview()
		if player.State() != preview.StateReady {
			if err := player.Err(); err != nil {
				return fmt.Errorf("preview not available: %w", err)
			}
			return errors.New("preview not available")
		}

		sink, err := storage.NewWAVSink(previewOutput, player.SampleRate())
		if err != nil {
			return err
		}
		if err := player.Play(); err != nil {
			sink.Close()
			return err
		}

		left := make([]float32, previewBlock)
		right := make([]float32, previewBlock)
		for player.IsPlaying() {
			if err := cmd.Context().Err(); err != nil {
				player.Stop()
				sink.Close()
				return err
			}
			n := player.Pull(left, right)
			if n == 0 {
				break
			}
			if err := sink.Write(left[:n], right[:n]); err != nil {
				player.Stop()
				sink.Close()
				return err
			}
		}
		if err := sink.Close(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d lanes, %.2fs at %d Hz\n",
			previewOutput, len(st.Lanes()), player.Duration(), player.SampleRate())
		return nil
	},
}

func init() {
	f := previewCmd.Flags()
	f.StringVarP(&previewOutput, "output", "o", "preview.wav", "WAV file to write")
	f.StringVar(&previewOrder, "order", "", "comma separated lane positions to keep, in output order")
}
