package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyweave/client"
	"storyweave/client/playback"
)

func newReadCommand(ctx *commandContext) *cobra.Command {
	var voice string
	var binary string

	cmd := &cobra.Command{
		Use:   "read <book-id>",
		Short: "Read a book aloud",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.restoreSession(cmd.Context()); err != nil {
				return err
			}
			workflow := client.NewContinuation(ctx.api, ctx.sessions)
			view, err := workflow.SelectBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if view.Story == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(no chapters yet)")
				return nil
			}

			synth := playback.NewCommandSynthesizer(binary, "-v", nil)
			controller := playback.NewController(synth)
			if !controller.Supported() {
				return fmt.Errorf("%q not found; install it or pass --speech-binary", binary)
			}
			if err := controller.Speak(cmd.Context(), view.Story, voice); err != nil {
				return err
			}
			// Ctrl-C cancels the command context, which stops the utterance.
			return controller.Wait()
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "Preferred voice (falls back to an English voice)")
	cmd.Flags().StringVar(&binary, "speech-binary", "espeak-ng", "Speech synthesis binary")
	return cmd
}
