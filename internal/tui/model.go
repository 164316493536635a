// Package tui is the terminal UI: one screen showing sync progress for the
// configured accounts, with keys to start, pause, and resolve conflicts.
package tui

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/internal/syncengine"
)

// Model is the single-screen TUI model.
type Model struct {
	service  *syncengine.Service
	bridge   *EventBridge
	accounts []syncengine.Account

	selected    int
	states      map[string]models.SyncState
	conflicts   []models.SyncConflict
	conflictIdx int

	bar  progress.Model
	spin spinner.Model

	activity []string
	width    int
	err      error
	quitting bool
}

type conflictsLoadedMsg struct {
	conflicts []models.SyncConflict
}

type resolveDoneMsg struct {
	path string
	err  error
}

// NewModel builds the TUI model around a running service and its bridge.
func NewModel(service *syncengine.Service, bridge *EventBridge) Model {
	accounts := service.Accounts()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = ProgressBarWidth

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = SelectedStyle()

	return Model{
		service:  service,
		bridge:   bridge,
		accounts: accounts,
		states:   make(map[string]models.SyncState),
		bar:      bar,
		spin:     spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.bridge.ListenCmd(), m.loadConflictsCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)

		return m, cmd

	case EngineEventMsg:
		return m.handleEvent(msg.Event)

	case conflictsLoadedMsg:
		m.conflicts = msg.conflicts
		if m.conflictIdx >= len(m.conflicts) {
			m.conflictIdx = 0
		}

		return m, nil

	case resolveDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			m.addActivity(fmt.Sprintf("resolve %s failed: %v", msg.path, msg.err))
		} else {
			m.addActivity("resolved " + msg.path)
		}

		return m, m.loadConflictsCmd()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyCtrlC, "q":
		m.quitting = true

		for _, acct := range m.accounts {
			m.service.StopSync(acct.ID)
		}

		return m, tea.Quit

	case "s":
		acct := m.currentAccount()
		if acct.ID != "" && m.service.StartSync(acct.ID) {
			m.err = nil
			m.addActivity("sync started for " + acct.ID)
		}

		return m, nil

	case "p", "esc":
		acct := m.currentAccount()
		if acct.ID != "" {
			m.service.StopSync(acct.ID)
		}

		return m, nil

	case "tab":
		if len(m.accounts) > 0 {
			m.selected = (m.selected + 1) % len(m.accounts)
			m.conflictIdx = 0

			return m, m.loadConflictsCmd()
		}

		return m, nil

	case "up", "k":
		if m.conflictIdx > 0 {
			m.conflictIdx--
		}

		return m, nil

	case "down", "j":
		if m.conflictIdx < len(m.conflicts)-1 {
			m.conflictIdx++
		}

		return m, nil

	case "l":
		return m, m.resolveCmd(models.ResolutionKeepLocal)
	case "r":
		return m, m.resolveCmd(models.ResolutionKeepRemote)
	case "b":
		return m, m.resolveCmd(models.ResolutionKeepBoth)
	case "n":
		return m, m.resolveCmd(models.ResolutionKeepNewer)
	}

	return m, nil
}

func (m Model) handleEvent(event syncengine.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.bridge.ListenCmd()}

	switch event := event.(type) {
	case syncengine.StateUpdated:
		m.states[event.State.AccountID] = event.State

	case syncengine.TransferComplete:
		m.addActivity(fmt.Sprintf("%sed %s", event.Direction, event.Path))

	case syncengine.TransferFailed:
		m.addActivity(fmt.Sprintf("%s %s failed: %v", event.Direction, event.Path, event.Err))

	case syncengine.FileDeleted:
		m.addActivity(fmt.Sprintf("deleted %s (%s)", event.Path, event.Side))

	case syncengine.ConflictDetected:
		m.addActivity("conflict on " + event.Conflict.FilePath)
		cmds = append(cmds, m.loadConflictsCmd())

	case syncengine.RunComplete:
		m.addActivity(fmt.Sprintf("sync %s: %s", event.AccountID, event.Status))
		if event.Err != nil {
			m.err = event.Err
		}

		cmds = append(cmds, m.loadConflictsCmd())

	case syncengine.ErrorOccurred:
		m.addActivity(fmt.Sprintf("%s error: %v", event.Phase, event.Err))
	}

	return m, tea.Batch(cmds...)
}

func (m Model) currentAccount() syncengine.Account {
	if m.selected < len(m.accounts) {
		return m.accounts[m.selected]
	}

	return syncengine.Account{}
}

func (m *Model) addActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > ActivityLogLines {
		m.activity = m.activity[len(m.activity)-ActivityLogLines:]
	}
}

func (m Model) loadConflictsCmd() tea.Cmd {
	acct := m.currentAccount()
	if acct.ID == "" {
		return nil
	}

	service := m.service

	return func() tea.Msg {
		conflicts, err := service.Conflicts(acct.ID)
		if err != nil {
			return conflictsLoadedMsg{}
		}

		return conflictsLoadedMsg{conflicts: conflicts}
	}
}

func (m Model) resolveCmd(strategy models.ResolutionStrategy) tea.Cmd {
	if m.conflictIdx >= len(m.conflicts) {
		return nil
	}

	conflict := m.conflicts[m.conflictIdx]
	service := m.service

	return func() tea.Msg {
		err := service.Resolve(context.Background(), conflict.AccountID, conflict.ID, strategy)

		return resolveDoneMsg{path: conflict.FilePath, err: err}
	}
}
