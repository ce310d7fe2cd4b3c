package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyweave/client"
)

func newContinueCommand(ctx *commandContext) *cobra.Command {
	var bookID string

	cmd := &cobra.Command{
		Use:   "continue <prompt>",
		Short: "Generate the next chapter from a prompt",
		Long: "Generates a story continuation for the prompt. With --book the " +
			"result is appended as the book's next chapter; without it the " +
			"story is printed and discarded.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.restoreSession(cmd.Context()); err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			workflow := client.NewContinuation(ctx.api, ctx.sessions)

			if bookID == "" {
				story, err := workflow.Continue(cmd.Context(), prompt)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), story)
				return nil
			}

			if _, err := workflow.SelectBook(cmd.Context(), bookID); err != nil {
				return err
			}
			result, err := workflow.AppendChapter(cmd.Context(), prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Story)
			if result.PersistError != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s (the text above was not saved)\n", result.PersistError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "Book to append the chapter to")
	return cmd
}
