// Package dashboard is a live terminal view of one terminal's sync state:
// connectivity, queue depth, the last drain of each family and the
// operations waiting for a human.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/offline"
)

// TickMsg triggers a poll of the source
type TickMsg time.Time

// SyncDoneMsg carries the result of a manual sync
type SyncDoneMsg struct {
	Report offline.SyncReport
	Err    error
}

// RefreshDoneMsg carries the result of a catalog refresh
type RefreshDoneMsg struct {
	Updated int
	Err     error
}

// catalogs are refreshed by the r key
var catalogs = []models.CollectionKey{models.ProductsKey, models.ClientsKey, models.CategoriesKey}

// Model is the bubbletea model of the dashboard
type Model struct {
	src             Source
	RefreshInterval time.Duration
	Version         string

	Width  int
	Height int

	Data       Snapshot
	Syncing    bool
	Refreshing bool
	Spinner    spinner.Model

	// Status is the outcome of the last key action
	Status    string
	StatusErr bool
}

// NewModel returns a dashboard polling src every interval
func NewModel(src Source, interval time.Duration, version string) Model {
	return Model{
		src:             src,
		RefreshInterval: interval,
		Version:         version,
		Spinner:         spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(warningStyle)),
	}
}

// Init starts the poll loop
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case Snapshot:
		m.Data = msg
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case SyncDoneMsg:
		m.Syncing = false
		m.Status, m.StatusErr = describeSync(msg)
		return m, m.fetchData()

	case RefreshDoneMsg:
		m.Refreshing = false
		if msg.Err != nil {
			m.Status, m.StatusErr = "refresh failed: "+msg.Err.Error(), true
		} else {
			m.Status, m.StatusErr = fmt.Sprintf("catalog refreshed, %d collection(s) changed", msg.Updated), false
		}
		return m, m.fetchData()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		if m.Syncing {
			return m, nil
		}
		wasBusy := m.busy()
		m.Syncing = true
		m.Status = ""
		return m, m.startWork(wasBusy, m.runSync())
	case "r":
		if m.Refreshing {
			return m, nil
		}
		wasBusy := m.busy()
		m.Refreshing = true
		m.Status = ""
		return m, m.startWork(wasBusy, m.runRefresh())
	}
	return m, nil
}

// startWork runs cmd and keeps the spinner going. A spinner already
// ticking is not started twice.
func (m Model) startWork(spinning bool, cmd tea.Cmd) tea.Cmd {
	if spinning {
		return cmd
	}
	return tea.Batch(m.Spinner.Tick, cmd)
}

func (m Model) busy() bool { return m.Syncing || m.Refreshing }

// View renders the dashboard
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that polls the source
func (m Model) fetchData() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		return FetchData(context.Background(), src)
	}
}

func (m Model) runSync() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		report, err := src.SyncAll(context.Background())
		return SyncDoneMsg{Report: report, Err: err}
	}
}

func (m Model) runRefresh() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		var (
			updated int
			errs    []error
		)
		for _, key := range catalogs {
			res, err := src.Refresh(context.Background(), key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if res.Changed {
				updated++
			}
		}
		return RefreshDoneMsg{Updated: updated, Err: errors.Join(errs...)}
	}
}

func describeSync(msg SyncDoneMsg) (string, bool) {
	if msg.Err != nil {
		return "sync failed: " + msg.Err.Error(), true
	}
	var sent, rejected int
	offlineHit := false
	for _, s := range msg.Report.Sessions() {
		sent += len(s.Succeeded)
		rejected += len(s.Terminal)
		offlineHit = offlineHit || s.WentOffline
	}
	switch {
	case offlineHit:
		return fmt.Sprintf("sent %d, backend unreachable", sent), true
	case rejected > 0:
		return fmt.Sprintf("sent %d, %d rejected", sent, rejected), true
	default:
		return fmt.Sprintf("sent %d", sent), false
	}
}
