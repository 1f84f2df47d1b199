package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/posync/internal/output"
)

const defaultWidth = 80

// maxAttentionRows caps the attention panel; the rest is summarized
const maxAttentionRows = 8

func (m Model) renderView() string {
	width := m.Width
	if width <= 0 {
		width = defaultWidth
	}
	inner := width - 4 // border and padding

	var sections []string
	sections = append(sections, m.renderHeader(width))
	sections = append(sections, m.panel("Queue", m.renderQueue(), inner))
	sections = append(sections, m.panel("Last sync", m.renderSessions(inner), inner))
	sections = append(sections, m.panel("Cache", m.renderCache(inner), inner))
	if len(m.Data.Attention) > 0 {
		sections = append(sections, m.panel("Needs attention", m.renderAttention(inner), inner))
	}
	sections = append(sections, m.renderFooter(width))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	line := titleStyle.Render("posync") + "  " + output.ConnectivityBadge(m.Data.Online)
	if m.Version != "" {
		line += "  " + subtleStyle.Render(m.Version)
	}
	if !m.Data.Timestamp.IsZero() {
		line += "  " + subtleStyle.Render("updated "+m.Data.Timestamp.Format("15:04:05"))
	}
	return ansi.Truncate(line, width, "…")
}

func (m Model) panel(title, body string, inner int) string {
	content := panelTitleStyle.Render(title) + "\n" + body
	return panelStyle.Width(inner + 2).Render(content)
}

func (m Model) renderQueue() string {
	if m.Data.Err != nil {
		return errorStyle.Render("cannot read local store: " + m.Data.Err.Error())
	}
	attention := countStyle.Render(fmt.Sprint(len(m.Data.Attention)))
	if len(m.Data.Attention) > 0 {
		attention = errorStyle.Render(fmt.Sprint(len(m.Data.Attention)))
	}
	rows := []string{
		fmt.Sprintf("sales            %s", countStyle.Render(fmt.Sprint(m.Data.PendingSales))),
		fmt.Sprintf("inventory lines  %s", countStyle.Render(fmt.Sprint(m.Data.PendingLines))),
		fmt.Sprintf("needs attention  %s", attention),
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderSessions(inner int) string {
	last := m.Data.Last
	rows := []string{
		ansi.Truncate(output.FormatSession(last.Sales), inner, "…"),
		ansi.Truncate(output.FormatSession(last.Inventory), inner, "…"),
	}
	if last.Sales == nil && last.Inventory == nil {
		rows = []string{subtleStyle.Render("no drain yet")}
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderCache(inner int) string {
	if len(m.Data.Collections) == 0 {
		return subtleStyle.Render("nothing cached, press r to download the catalog")
	}
	var rows []string
	for _, c := range m.Data.Collections {
		row := fmt.Sprintf("%-28s %4d  %s", c.Key.String(), c.Records, subtleStyle.Render(output.FormatTimeAgo(c.RefreshedAt)))
		rows = append(rows, ansi.Truncate(row, inner, "…"))
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderAttention(inner int) string {
	now := time.Now()
	ops := m.Data.Attention
	var rows []string
	for i, op := range ops {
		if i == maxAttentionRows {
			rows = append(rows, subtleStyle.Render(fmt.Sprintf("… %d more, see posync pending list --attention", len(ops)-i)))
			break
		}
		rows = append(rows, ansi.Truncate(output.FormatOperationShort(op, now), inner, "…"))
		if op.LastError != "" {
			rows = append(rows, ansi.Truncate("  "+errorStyle.Render(op.LastError), inner, "…"))
		}
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderFooter(width int) string {
	var status string
	switch {
	case m.Syncing:
		status = m.Spinner.View() + " syncing"
	case m.Refreshing:
		status = m.Spinner.View() + " refreshing catalog"
	case m.Status != "" && m.StatusErr:
		status = warningStyle.Render(m.Status)
	case m.Status != "":
		status = okStyle.Render(m.Status)
	}
	help := helpStyle.Render("s sync  r refresh catalog  q quit")
	if status == "" {
		return help
	}
	return ansi.Truncate(status+"  "+help, width, "…")
}
