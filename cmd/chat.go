package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/dependency"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/shared/cmdutils"
	"github.com/modelgate/modelgate/internal/shared/llmutils"
)

var (
	chatMessage  string
	chatProvider string
	chatModel    string
	chatSession  string
)

var chatCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Chat with the active provider",
	RunE:         runChat,
	SilenceUsage: true,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Provider override (default: active provider)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model override (default: provider default)")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "cli:direct", "Session ID")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}

	if chatMessage != "" {
		return runSingleMessage(container)
	}
	return runInteractive(container)
}

// runSingleMessage sends one message and prints the response. A failed turn
// returns a non-nil error so scripted callers see a non-zero exit code.
func runSingleMessage(c *dependency.Container) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
	text, err := sendTurn(ctx, c, chatMessage)
	if err != nil {
		return fmt.Errorf("%s", c.Gateway().ErrorText(effectiveProvider(c.Config()), err))
	}
	cmdutils.PrintResponse(text)
	return nil
}

// runInteractive starts the REPL: reads lines from stdin, streams each reply,
// and keeps the conversation in the in-memory session until /new.
func runInteractive(c *dependency.Container) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit, /new to reset, /help for commands)\n\n", logo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenForSignals(cancel)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}
		if handleSlashCommand(c, line) {
			continue
		}

		streamTurn(ctx, c, line)
	}
}

// handleSlashCommand processes REPL commands; returns true when line was one.
func handleSlashCommand(c *dependency.Container, line string) bool {
	switch strings.ToLower(line) {
	case "/new":
		c.Sessions().GetOrCreate(chatSession).Clear()
		fmt.Println("Session cleared.")
		return true
	case "/usage":
		fmt.Println(c.Usage().Summary())
		return true
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /new    reset the conversation")
		fmt.Println("  /usage  show session token usage and cost")
		fmt.Println("  /help   show this help")
		fmt.Println("  exit    leave the chat")
		return true
	}
	return false
}

// sendTurn drives one non-streamed turn and returns the display text.
func sendTurn(ctx context.Context, c *dependency.Container, message string) (string, error) {
	sess := c.Sessions().GetOrCreate(chatSession)
	chat := sess.Context(message, turnPrefs(c.Config()), nil)

	completion, err := c.Gateway().SendMessage(ctx, chat, gateway.SendOptions{
		Provider:  chatProvider,
		Model:     chatModel,
		SessionID: chatSession,
	})
	if err != nil {
		return "", err
	}

	sess.AddUser(message)
	sess.AddAssistant(completion.Content, nil)
	return llmutils.StripThink(completion.Content), nil
}

// streamTurn drives one streamed turn, printing chunks as they arrive.
func streamTurn(ctx context.Context, c *dependency.Container, message string) {
	sess := c.Sessions().GetOrCreate(chatSession)
	chat := sess.Context(message, turnPrefs(c.Config()), nil)

	fmt.Printf("\n%s modelgate\n", logo)
	completion, err := c.Gateway().SendMessage(ctx, chat, gateway.SendOptions{
		Provider:  chatProvider,
		Model:     chatModel,
		SessionID: chatSession,
		OnChunk: func(text string) {
			fmt.Print(text)
		},
		OnError: func(err error) {
			cmdutils.PrintError(c.Gateway().ErrorText(effectiveProvider(c.Config()), err))
		},
	})
	fmt.Println()
	fmt.Println()
	if err != nil {
		return
	}

	sess.AddUser(message)
	sess.AddAssistant(completion.Content, nil)
}

func turnPrefs(cfg *config.Config) schema.Preferences {
	return schema.Preferences{
		Temperature: cfg.Defaults.Temperature,
		MaxTokens:   cfg.Defaults.MaxTokens,
		EnableTools: cfg.Defaults.EnableTools,
	}
}

func effectiveProvider(cfg *config.Config) string {
	if chatProvider != "" {
		return chatProvider
	}
	return cfg.ActiveProvider
}

// listenForSignals cancels ctx on SIGINT or SIGTERM and exits.
func listenForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		cancel()
		os.Exit(0)
	}()
}
