// Package output provides styled terminal output helpers (success, error,
// warning, queue and catalog formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/syncer"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[models.OperationState]lipgloss.Style{
		models.StateQueued:         lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StateSubmitting:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StateFailedTerminal: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatState formats an operation state with color
func FormatState(s models.OperationState) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// ConnectivityBadge returns "● online" or "○ offline"
func ConnectivityBadge(online bool) string {
	if online {
		return successStyle.Render("● online")
	}
	return warningStyle.Render("○ offline")
}

// FormatMoney formats cents as units with two decimals
func FormatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ShortToken shortens an idempotency token to 8 characters
func ShortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

// DescribePayload summarizes what a pending operation carries
func DescribePayload(op models.PendingOperation) string {
	p, err := op.Decode()
	if err != nil {
		return errorStyle.Render("undecodable payload")
	}
	switch p := p.(type) {
	case *models.SalePayload:
		n := len(p.Sale.Lines)
		noun := "lines"
		if n == 1 {
			noun = "line"
		}
		return fmt.Sprintf("sale %d %s, total %s", n, noun, FormatMoney(p.Sale.TotalCents()))
	case *models.InventoryLinePayload:
		return fmt.Sprintf("count %s = %d in %s", p.Line.ProductID, p.Line.Quantity, p.SessionID)
	}
	return string(op.Kind)
}

// FormatOperationShort formats a pending operation on one line
func FormatOperationShort(op models.PendingOperation, now time.Time) string {
	parts := []string{
		titleStyle.Render(ShortToken(op.Token)),
		FormatState(op.State),
		DescribePayload(op),
	}
	if op.Attempts > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("attempts %d", op.Attempts)))
	}
	if op.State == models.StateQueued && op.NextAttemptAt.After(now) {
		parts = append(parts, subtleStyle.Render("retry in "+op.NextAttemptAt.Sub(now).Round(time.Second).String()))
	}
	return strings.Join(parts, "  ")
}

// FormatOperationLong formats a pending operation with its error and payload
func FormatOperationLong(op models.PendingOperation) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", op.Token, op.Kind)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "State: %s | Attempts: %d\n", FormatState(op.State), op.Attempts)
	fmt.Fprintf(&sb, "Created: %s\n", FormatTimeAgo(op.CreatedAt))
	if op.ParentRef != "" {
		fmt.Fprintf(&sb, "Parent: %s\n", op.ParentRef)
	}
	if op.LastError != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Last error:"))
		sb.WriteString("\n")
		sb.WriteString(op.LastError)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(subtleStyle.Render("Payload:"))
	sb.WriteString("\n")
	sb.WriteString(IndentString(DescribePayload(op), 2))
	sb.WriteString("\n")
	return sb.String()
}

// FormatSession summarizes a drain on one line
func FormatSession(s *syncer.SyncSession) string {
	if s == nil {
		return subtleStyle.Render("never synced")
	}
	label := s.Name
	if label == "" {
		label = "sync"
	}
	if len(s.Attempted) == 0 && len(s.Deferred) == 0 {
		return fmt.Sprintf("%s: nothing to send (%s, %s)", label, s.Trigger, FormatTimeAgo(s.FinishedAt))
	}

	var parts []string
	if n := len(s.Succeeded); n > 0 {
		parts = append(parts, successStyle.Render(fmt.Sprintf("%d sent", n)))
	}
	if n := len(s.Retryable); n > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d to retry", n)))
	}
	if n := len(s.Terminal); n > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d rejected", n)))
	}
	if n := len(s.Deferred); n > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d deferred", n)))
	}
	line := fmt.Sprintf("%s: %s (%s)", label, strings.Join(parts, ", "), s.Trigger)
	if s.WentOffline {
		line += " " + warningStyle.Render("backend unreachable")
	}
	return line
}

// FormatProduct formats a catalog product row
func FormatProduct(p models.Product) string {
	parts := []string{
		titleStyle.Render(p.ID),
		p.Name,
		FormatMoney(p.PriceCents),
		subtleStyle.Render(fmt.Sprintf("stock %d", p.Stock)),
	}
	if p.SKU != "" {
		parts = append(parts, subtleStyle.Render(p.SKU))
	}
	return strings.Join(parts, "  ")
}

// FormatClient formats a catalog client row
func FormatClient(c models.Client) string {
	parts := []string{titleStyle.Render(c.ID), c.Name}
	if c.TaxID != "" {
		parts = append(parts, subtleStyle.Render(c.TaxID))
	}
	return strings.Join(parts, "  ")
}

// FormatCategory formats a catalog category row
func FormatCategory(c models.Category) string {
	line := titleStyle.Render(c.ID) + "  " + c.Name
	if c.ParentID != "" {
		line += "  " + subtleStyle.Render("in "+c.ParentID)
	}
	return line
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
