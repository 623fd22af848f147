package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whisper/chat-client/internal/view"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open the login form, then chat",
	Long: `Shows the login form and continues into the chat once signed in.
If a session is already saved the form is skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), clientOptions{tab: view.TabLogin})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Open the registration form, then chat",
	Long: `Shows the registration form and continues into the chat once the
account is created. If a session is already saved the form is skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), clientOptions{tab: view.TabRegister})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the chat with the saved session",
	Long:  `Joins the chat without showing any form. Fails when no session is saved.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), clientOptions{requireSession: true})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		store, closeStore, err := openSessionStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		store.Clear(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}
