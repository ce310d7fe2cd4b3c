package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyweave/client"
)

func newBooksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Manage books",
	}
	cmd.AddCommand(
		newBooksListCommand(ctx),
		newBooksCreateCommand(ctx),
		newBooksShowCommand(ctx),
	)
	return cmd
}

func newBooksListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your books, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.restoreSession(cmd.Context()); err != nil {
				return err
			}
			workflow := client.NewContinuation(ctx.api, ctx.sessions)
			books, err := workflow.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No books yet")
				return nil
			}
			for _, book := range books {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%s)\n",
					book.ID, book.Title, book.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func newBooksCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new book",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.restoreSession(cmd.Context()); err != nil {
				return err
			}
			workflow := client.NewContinuation(ctx.api, ctx.sessions)
			book, err := workflow.CreateBook(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created book %s (%s)\n", book.Title, book.ID)
			return nil
		},
	}
}

func newBooksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Print a book's reconstructed story",
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
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", view.Book.Title)
			if view.Story == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(no chapters yet)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), view.Story)
			return nil
		},
	}
}
