package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/branchenv/internal/environment"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderPhases(&b, m)

	if m.Report != nil {
		renderReport(&b, m)
	}

	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("branchenv: %s", m.ID)
	b.WriteString(titleStyle.Render(title))
	if m.Branch != "" {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf(" (branch %s, %s)", m.Branch, m.Event)))
	}

	status := " "
	switch {
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Report != nil && m.Report.Succeeded():
		status += readyStyle.Render(string(m.Report.FinalPhase))
	case m.Report != nil:
		status += failedStyle.Render(string(m.Report.FinalPhase))
	case m.Current == environment.PhaseFailed:
		status += failedStyle.Render("Failed")
	case m.Current != "":
		status += activeStyle.Render(currentSpinner(m.SpinnerFrame)+" ") + warningStyle.Render(string(m.Current))
	default:
		status += dimStyle.Render("Waiting for lock...")
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	progress := calculateProgress(m)
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = m.Width - 30
		if barWidth < 10 {
			barWidth = 10
		}
	}
	filled := int(float64(barWidth) * progress)
	if filled > barWidth {
		filled = barWidth
	}

	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))

	pct := int(progress * 100)
	eta := ""
	if m.EstimatedRemaining > 0 {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}

	fmt.Fprintf(b, "  %s %d%%%s\n", bar, pct, eta)
}

func renderPhases(b *strings.Builder, m Model) {
	section := "  Provision"
	if m.Phases[0].Phase == environment.PhaseDeleting {
		section = "  Decommission"
		if m.Superseded {
			section += " (superseded)"
		}
	}
	b.WriteString(sectionStyle.Render(section))
	b.WriteString("\n")

	for _, row := range m.Phases {
		var icon string
		var style styleFunc
		dur := ""
		switch {
		case row.Failed:
			icon = crossMark
			style = sf(failedStyle)
			dur = formatDuration(row.Duration)
		case row.Done:
			icon = checkMark
			style = sf(readyStyle)
			if row.Duration > 0 {
				dur = formatDuration(row.Duration)
			}
		case row.Active:
			icon = currentSpinner(m.SpinnerFrame)
			style = sf(activeStyle)
			dur = formatDuration(time.Since(row.StartedAt))
		default:
			icon = pending
			style = sf(dimStyle)
		}
		fmt.Fprintf(b, "    %s %-18s %s\n", style(icon), style(string(row.Phase)), dimStyle.Render(dur))
	}
}

func renderReport(b *strings.Builder, m Model) {
	r := m.Report
	b.WriteString(sectionStyle.Render("  Result"))
	b.WriteString("\n")

	if r.ExternalEndpoint != "" {
		fmt.Fprintf(b, "    %s %s\n", readyStyle.Render("endpoint:"), r.ExternalEndpoint)
	}
	if r.FailureReason != "" {
		fmt.Fprintf(b, "    %s [%s] %s\n", failedStyle.Render(crossMark), r.FailedPhase, dimStyle.Render(r.FailureReason))
	}
	for _, cs := range r.Changesets {
		var icon string
		var style styleFunc
		switch cs.Status {
		case environment.ChangesetSuccess:
			icon, style = checkMark, sf(readyStyle)
		case environment.ChangesetFailure:
			icon, style = crossMark, sf(failedStyle)
		default:
			icon, style = pending, sf(dimStyle)
		}
		fmt.Fprintf(b, "    %s %-18s %s\n", style(icon), style(cs.Name), dimStyle.Render(cs.Detail))
	}
	if r.Recovered {
		fmt.Fprintf(b, "    %s %s\n", warningStyle.Render("recovered:"), "stuck finalizers were cleared")
	}
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	pulse := ""
	if !m.Done && m.Err == nil {
		pulse = "  |  " + currentSpinner(m.SpinnerFrame) + " working"
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  elapsed: %s%s  |  q: quit", elapsed, pulse)))
	b.WriteString("\n")
}

func currentSpinner(frame int) string {
	if len(spinnerFrames) == 0 {
		return spinner
	}
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func calculateProgress(m Model) float64 {
	if m.Report != nil && m.Report.Succeeded() {
		return 1.0
	}
	if len(m.Phases) == 0 {
		return 0
	}
	done := 0
	for _, row := range m.Phases {
		if row.Done {
			done++
		}
	}
	return float64(done) / float64(len(m.Phases))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
