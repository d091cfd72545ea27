package cmd

import (
	"testing"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/dependency"
)

func TestRunSingleMessage_FailedTurnReturnsError(t *testing.T) {
	// No active provider configured, so the turn fails before any network
	// call; the command must surface that as a non-nil error (non-zero exit).
	c, err := dependency.New(&config.Config{})
	if err != nil {
		t.Fatalf("container: %v", err)
	}

	prev := chatMessage
	chatMessage = "hello"
	defer func() { chatMessage = prev }()

	if err := runSingleMessage(c); err == nil {
		t.Fatal("a failed turn must return an error")
	}
}
