package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/pkg/formatters"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	acct := m.currentAccount()
	state := m.states[acct.ID]

	b.WriteString(TitleStyle().Render("drivesync"))
	b.WriteString("\n\n")
	b.WriteString(m.accountLine(acct.ID, state))
	b.WriteString("\n")
	b.WriteString(m.progressSection(state))

	if len(m.conflicts) > 0 {
		b.WriteString("\n")
		b.WriteString(m.conflictSection())
	}

	if len(m.activity) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle().Render("recent:"))
		b.WriteString("\n")

		for _, line := range m.activity {
			b.WriteString("  " + line + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle().Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(LabelStyle().Render(m.helpLine()))

	return BoxStyle().Render(b.String()) + "\n"
}

func (m Model) accountLine(accountID string, state models.SyncState) string {
	status := state.Status
	if status == "" {
		status = models.RunIdle
	}

	line := fmt.Sprintf("account: %s   status: %s", accountID, status)

	if len(m.accounts) > 1 {
		line += fmt.Sprintf("   (%d/%d, tab to switch)", m.selected+1, len(m.accounts))
	}

	return line
}

func (m Model) progressSection(state models.SyncState) string {
	var b strings.Builder

	if state.Status == models.RunRunning && state.CurrentScanningFolder != "" {
		folder := state.CurrentScanningFolder
		b.WriteString(fmt.Sprintf("%s scanning %s\n", m.spin.View(), folder))
	}

	if state.TotalBytes > 0 {
		percent := float64(state.CompletedBytes) / float64(state.TotalBytes)
		b.WriteString(m.bar.ViewAs(percent))
		b.WriteString("\n")
	}

	if state.TotalFiles > 0 {
		b.WriteString(fmt.Sprintf("files: %d/%d   %s / %s",
			state.CompletedFiles, state.TotalFiles,
			formatters.FormatBytes(state.CompletedBytes),
			formatters.FormatBytes(state.TotalBytes)))

		if state.MegabytesPerSecond > 0 {
			b.WriteString("   " + formatters.FormatRate(state.MegabytesPerSecond*1024*1024))
		}

		if state.EstimatedSecondsRemaining != nil {
			eta := time.Duration(*state.EstimatedSecondsRemaining * float64(time.Second))
			b.WriteString("   eta " + formatters.FormatDuration(eta))
		}

		b.WriteString("\n")
	}

	counts := []string{}
	if state.FilesUploading > 0 {
		counts = append(counts, fmt.Sprintf("%d uploading", state.FilesUploading))
	}

	if state.FilesDownloading > 0 {
		counts = append(counts, fmt.Sprintf("%d downloading", state.FilesDownloading))
	}

	if state.FilesDeleted > 0 {
		counts = append(counts, fmt.Sprintf("%d deleted", state.FilesDeleted))
	}

	if state.ConflictsDetected > 0 {
		counts = append(counts, fmt.Sprintf("%d conflicts", state.ConflictsDetected))
	}

	if len(counts) > 0 {
		b.WriteString(strings.Join(counts, "   "))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) conflictSection() string {
	var b strings.Builder

	b.WriteString(ConflictStyle().Render(fmt.Sprintf("conflicts (%d):", len(m.conflicts))))
	b.WriteString("\n")

	for i, c := range m.conflicts {
		line := fmt.Sprintf("  %s  local %s / remote %s",
			c.FilePath,
			c.LocalModifiedUTC.Format("2006-01-02 15:04"),
			c.RemoteModifiedUTC.Format("2006-01-02 15:04"))

		if i == m.conflictIdx {
			line = SelectedStyle().Render("▶" + line[1:])
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(LabelStyle().Render("  l keep local · r keep remote · b keep both · n keep newer"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) helpLine() string {
	return "s start · p pause · q quit"
}
