package output

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/posync/internal/models"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}

// AttentionReport builds a markdown report of operations the server
// rejected, for rendering with RenderMarkdown
func AttentionReport(ops []models.PendingOperation) string {
	var sb strings.Builder
	sb.WriteString("# Needs attention\n\n")
	if len(ops) == 0 {
		sb.WriteString("Nothing was rejected by the server.\n")
		return sb.String()
	}

	noun := "operations were"
	if len(ops) == 1 {
		noun = "operation was"
	}
	fmt.Fprintf(&sb, "%d %s rejected and will not be retried automatically. "+
		"Fix the cause and run `posync pending retry <token>`, or settle it by hand "+
		"and run `posync pending discard <token>`.\n\n", len(ops), noun)

	for _, op := range ops {
		fmt.Fprintf(&sb, "## %s `%s`\n\n", op.Kind, op.Token)
		fmt.Fprintf(&sb, "- **What:** %s\n", plainPayload(op))
		fmt.Fprintf(&sb, "- **Created:** %s\n", op.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&sb, "- **Attempts:** %d\n", op.Attempts)
		if op.LastError != "" {
			fmt.Fprintf(&sb, "- **Server said:** %s\n", op.LastError)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// plainPayload is DescribePayload without terminal styling
func plainPayload(op models.PendingOperation) string {
	if _, err := op.Decode(); err != nil {
		return "undecodable payload"
	}
	return DescribePayload(op)
}
