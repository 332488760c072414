package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/vocalflow/internal/config"
)

var (
	accentColor = lipgloss.Color("#5FAFD7")
	mutedColor  = lipgloss.Color("#888888")
	errorColor  = lipgloss.Color("#D75F5F")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	keyStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(18)
	valueStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	// phaseStyles colours transitions by the phase they enter.
	phaseStyles = [4]lipgloss.Style{
		lipgloss.NewStyle().Foreground(mutedColor),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#87D787")),
		lipgloss.NewStyle().Foreground(accentColor).Bold(true),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF5F")),
	}
)

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), message)
}

// row renders one key/value line of a summary box.
func row(key string, value any) string {
	return keyStyle.Render(key) + valueStyle.Render(fmt.Sprint(value))
}

func printStartupSummary(w io.Writer, cfg *config.Config, path string) {
	lines := []string{
		titleStyle.Render("vocalflow " + version),
		row("Config", path),
	}
	if cfg.Server.ListenAddr != "" {
		lines = append(lines, row("Listen addr", cfg.Server.ListenAddr))
	} else {
		lines = append(lines, row("Listen addr", "(disabled)"))
	}
	if cfg.Feed.Enabled {
		lines = append(lines, row("Feed", fmt.Sprintf("%s (%s, every %d)", cfg.Feed.Path, cfg.Feed.Encoding, cfg.Feed.Every)))
	} else {
		lines = append(lines, row("Feed", "(disabled)"))
	}
	lines = append(lines, row("Metrics", cfg.Telemetry.Metrics))
	for _, dc := range cfg.Detectors {
		src := string(dc.Source.Kind)
		if dc.Source.Path != "" {
			src += " " + dc.Source.Path
		}
		labels := dc.Labels
		if labels == "" {
			labels = "phase"
		}
		lines = append(lines, row("Detector "+dc.Name, labels+" / "+src))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}
