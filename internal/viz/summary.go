package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/pksim/internal/storage"
)

const sparkWidth = 40

// Summary renders the metadata of a stored run as a bordered panel. When
// observations are given, the mean profile of the first captured output is
// drawn as a sparkline.
func Summary(meta *storage.RunMetadata, obs []storage.Observation) string {
	var b strings.Builder

	b.WriteString(Title.Render(meta.ID))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("model", meta.Model)
	if meta.Preset != "" {
		row("preset", meta.Preset)
	}
	row("integrator", integratorLabel(meta))
	row("seed", fmt.Sprintf("%d", meta.Seed))
	if meta.TypicalOnly {
		row("omega", Subtle.Render("zero (typical values only)"))
	} else if len(meta.Omega) > 0 {
		row("omega", fmt.Sprintf("%g", meta.Omega))
	}
	row("elapsed", fmt.Sprintf("%dms", meta.ElapsedMs))

	status := StatusOK.Render(fmt.Sprintf("%d/%d simulated", meta.Simulated, meta.Individuals))
	if len(meta.Failures) > 0 {
		status += "  " + StatusFailed.Render(fmt.Sprintf("%d failed", len(meta.Failures)))
	}
	row("individuals", status)

	if len(meta.Metrics) > 0 {
		b.WriteString("\n")
		names := make([]string, 0, len(meta.Metrics))
		for name := range meta.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			row("mean "+name, MetricValue.Render(fmt.Sprintf("%.4g", meta.Metrics[name])))
		}
	}

	if len(obs) > 0 && len(meta.Outputs) > 0 {
		output := meta.Outputs[0]
		if _, means := MeanProfile(obs, output); len(means) > 0 {
			b.WriteString("\n")
			row("mean "+output, SparkMid.Render(Sparkline(means, sparkWidth)))
		}
	}

	for _, f := range meta.Failures {
		b.WriteString(Subtle.Render(fmt.Sprintf("\nID %d: %s", f.ID, f.Error)))
	}

	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func integratorLabel(meta *storage.RunMetadata) string {
	if meta.Adaptive {
		return fmt.Sprintf("%s (adaptive, tol %g)", meta.Integrator, meta.Tolerance)
	}
	return fmt.Sprintf("%s (dt %g)", meta.Integrator, meta.Dt)
}

// RunTable lists stored runs one per line.
func RunTable(runs []storage.RunMetadata) string {
	if len(runs) == 0 {
		return Subtle.Render("no runs")
	}

	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%-40s %-10s %6s %6s  %s", "ID", "MODEL", "N", "FAIL", "TIME"))
	lines := []string{header}
	for _, r := range runs {
		lines = append(lines, fmt.Sprintf("%-40s %-10s %6d %6d  %s",
			r.ID, r.Model, r.Individuals, len(r.Failures), r.Timestamp.Format("2006-01-02 15:04:05")))
	}
	return strings.Join(lines, "\n")
}
