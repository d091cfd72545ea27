package adapters

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/toolschema"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	maxErrorBody       = 300
)

// buildSystemPrompt assembles the system text for a turn: the session summary,
// the attached workspace files, and (when tools are enabled for the backend)
// the tool-usage guidance.
func buildSystemPrompt(chat schema.ChatContext, withTools bool) string {
	var sb strings.Builder
	sb.WriteString("You are a coding assistant working inside the user's project.")

	if chat.Session.Summary != "" {
		sb.WriteString("\n\nConversation summary so far:\n")
		sb.WriteString(chat.Session.Summary)
	}

	if len(chat.Files) > 0 {
		sb.WriteString("\n\nThe user has attached these project files:\n")
		for _, f := range chat.Files {
			fmt.Fprintf(&sb, "\n%s (%s, %d lines):\n```%s\n%s\n```\n",
				f.Path, f.Language, f.LineCount, f.Language, f.Content)
		}
	}

	if withTools {
		sb.WriteString("\n\n")
		sb.WriteString(toolschema.SystemPrompt())
	}
	return sb.String()
}

// effectivePrefs fills in defaults for unset preferences.
func effectivePrefs(p schema.Preferences) schema.Preferences {
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = defaultTemperature
	}
	return p
}

// truncateBody shortens an error body for inclusion in error text.
func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// isConnectionRefused reports whether err means the backend process is not
// listening at all (as opposed to rejecting the request). Timeouts and DNS
// failures are not refusals and must not get the "service not running" hint.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

// httpStatusOf extracts the status code from a ProviderHTTPError, or 0.
func httpStatusOf(err error) int {
	var pe *schema.ProviderHTTPError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
