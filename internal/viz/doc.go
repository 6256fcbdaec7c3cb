// Package viz renders stored runs in the terminal: lipgloss summaries and
// asciigraph concentration-time plots.
package viz
