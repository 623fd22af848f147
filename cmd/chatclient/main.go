// Command chatclient is a terminal client for the chat server: it signs in
// over the REST API, keeps the session on disk (or in Redis) and chats over
// the realtime WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal client for the chat server",
	Long: `chatclient signs in to a chat server and joins its single chat room.

Run without a subcommand for the combined login/register/chat screen. A
session saved by a previous run is reused until you log out.

Commands typed at the prompt:
  /login <username> <password>
  /register <username> <password> <confirm>
  /tab login|register
  /logout
  /quit
Any other line is sent as a chat message; start it with // to send a line
that begins with a slash.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), clientOptions{})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "chatclient.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "chat server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write diagnostic logs here instead of stderr")

	rootCmd.AddCommand(loginCmd, registerCmd, chatCmd, logoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
