package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storyweave/client"
)

// commandContext lazily wires the API client and session manager shared by
// all subcommands.
type commandContext struct {
	apiURL    string
	credsPath string

	api      *client.Client
	sessions *client.SessionManager
}

func (c *commandContext) ensure() error {
	if c.sessions != nil {
		return nil
	}
	apiURL := c.apiURL
	if apiURL == "" {
		apiURL = os.Getenv("STORYWEAVE_API")
	}
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	var store client.CredentialStore
	if c.credsPath != "" {
		store = client.NewFileCredentialStoreAt(c.credsPath)
	} else {
		fileStore, err := client.NewFileCredentialStore()
		if err != nil {
			return fmt.Errorf("credential store: %w", err)
		}
		store = fileStore
	}
	c.api = client.New(apiURL)
	c.sessions = client.NewSessionManager(c.api, store)
	return nil
}

// restoreSession verifies the stored credential with the server. A
// transport failure keeps the credential but still fails the command.
func (c *commandContext) restoreSession(ctx context.Context) (client.Session, error) {
	if err := c.ensure(); err != nil {
		return client.Session{}, err
	}
	session, ok, err := c.sessions.Restore(ctx)
	if err != nil {
		if client.IsUnauthenticated(err) {
			return client.Session{}, fmt.Errorf("session expired, log in again")
		}
		return client.Session{}, err
	}
	if !ok {
		return client.Session{}, fmt.Errorf("not logged in, run: storyctl login")
	}
	return session, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "storyctl",
		Short:         "Write and replay AI-continued storybooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ctx.apiURL, "api", "", "API base URL (default $STORYWEAVE_API or http://localhost:8080)")
	root.PersistentFlags().StringVar(&ctx.credsPath, "credentials", "", "Credentials file path (default under the user config dir)")

	root.AddCommand(
		newRegisterCommand(ctx),
		newLoginCommand(ctx),
		newLogoutCommand(ctx),
		newMeCommand(ctx),
		newBooksCommand(ctx),
		newContinueCommand(ctx),
		newReadCommand(ctx),
	)
	return root
}
