// Package cmd implements the modelgate CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"
const logo = "⛩"

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "modelgate",
	Short: logo + " modelgate — multi-backend LLM gateway",
	Long:  logo + " modelgate — one streaming contract over Anthropic, OpenAI-compatible, Ollama, and embedded backends, with supervised tool calling",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}
