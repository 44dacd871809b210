package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL      string
	storageBackend string
	dataDir        string
)

// rootCmd starts the chat REPL when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "threadai",
	Short: "Chat with DeepSeek and Kimi models from the terminal",
	Long: `threadai is a terminal client for the Thread AI server.

Conversations are kept locally (SQLite by default) and stream in as the model
writes them, with reasoning shown separately from the answer.

Quick Start:
  threadai                        # Start chatting
  threadai sessions               # List saved conversations
  threadai export 1 --format md   # Export the most recent conversation`,
	SilenceUsage: true,
	RunE:         runChat,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Thread AI server URL (overrides THREADAI_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "Session storage: sqlite, postgres or memory (overrides THREADAI_STORAGE)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the local database and log file (overrides THREADAI_DATA_DIR)")

	rootCmd.AddCommand(chatCmd, sessionsCmd, exportCmd, modelsCmd)
}
