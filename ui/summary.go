// Package ui renders the end-of-run summary panel.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/travelcrawl/internal/assets"
	"github.com/go-scripts/travelcrawl/internal/crawler"
)

// maxFailures is how many failed targets a stage panel lists.
const maxFailures = 5

// RenderSummary draws one bordered panel per executed stage.
func RenderSummary(s *crawler.Summary) string {
	if s == nil {
		return ""
	}

	var panels []string
	if s.LinksPath != "" {
		panels = append(panels, borderStyle.Render(
			titleStyle.Render("Links")+"\n\n"+
				row("Checkpoint", s.LinksPath)+
				row("Links", fmt.Sprintf("%d", s.Links)),
		))
	}
	for _, st := range s.Stages {
		panels = append(panels, renderStage(st))
	}
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func renderStage(st crawler.StageSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(stageTitle(st.Name)) + "\n\n")

	rate := 0.0
	if st.Targets > 0 {
		rate = float64(st.Succeeded) / float64(st.Targets) * 100
	}
	b.WriteString(row("Targets", fmt.Sprintf("%d", st.Targets)))
	b.WriteString(row("Success Rate", fmt.Sprintf("%.1f%% (%d/%d)", rate, st.Succeeded, st.Targets)))
	b.WriteString(row("Assets", fmt.Sprintf("%d downloaded, %d skipped, %d failed",
		st.Assets[assets.Downloaded], st.Assets[assets.Skipped], st.Assets[assets.Failed])))
	b.WriteString(row("Results", st.Checkpoint))
	b.WriteString(row("Elapsed Time", formatElapsed(st.Elapsed)))

	if len(st.Failures) > 0 {
		b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("Failed targets (%d):", len(st.Failures))) + "\n")
		for i, f := range st.Failures {
			if i == maxFailures {
				b.WriteString(infoStyle.Render(fmt.Sprintf("  … %d more", len(st.Failures)-maxFailures)) + "\n")
				break
			}
			b.WriteString(infoStyle.Render(fmt.Sprintf("• %s (%s): %v", f.URL, f.State, f.Err)) + "\n")
		}
	}
	return borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func stageTitle(name string) string {
	if name == "" {
		return "Stage"
	}
	return strings.ToUpper(name[:1]) + name[1:] + " stage"
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Width(14).Render(label+":"), valueStyle.Render(value))
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d.Hours()),
		int(d.Minutes())%60,
		int(d.Seconds())%60,
	)
}
