package viz

import (
	"fmt"
	"sort"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/pksim/internal/storage"
)

type PlotOptions struct {
	Output    string
	MaxCurves int
	Width     int
	Height    int
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Output: "CP", MaxCurves: 10, Width: 80, Height: 15}
}

// Series groups observations of one output by individual, in ID order.
func Series(obs []storage.Observation, output string) (ids []int, series [][]float64) {
	byID := make(map[int][]float64)
	for _, o := range obs {
		v, ok := o.Values[output]
		if !ok {
			continue
		}
		if _, seen := byID[o.ID]; !seen {
			ids = append(ids, o.ID)
		}
		byID[o.ID] = append(byID[o.ID], v)
	}
	sort.Ints(ids)
	for _, id := range ids {
		series = append(series, byID[id])
	}
	return ids, series
}

// MeanProfile averages an output over individuals at each observation time.
func MeanProfile(obs []storage.Observation, output string) (times, means []float64) {
	sums := make(map[float64]float64)
	counts := make(map[float64]int)
	for _, o := range obs {
		v, ok := o.Values[output]
		if !ok {
			continue
		}
		if _, seen := counts[o.Time]; !seen {
			times = append(times, o.Time)
		}
		sums[o.Time] += v
		counts[o.Time]++
	}
	sort.Float64s(times)
	means = make([]float64, len(times))
	for i, t := range times {
		means[i] = sums[t] / float64(counts[t])
	}
	return times, means
}

// ConcentrationPlot draws up to MaxCurves individual curves with the
// population mean highlighted.
func ConcentrationPlot(obs []storage.Observation, opts PlotOptions) (string, error) {
	ids, series := Series(obs, opts.Output)
	if len(series) == 0 {
		return "", fmt.Errorf("no %s observations to plot", opts.Output)
	}
	if opts.MaxCurves > 0 && len(series) > opts.MaxCurves {
		series = series[:opts.MaxCurves]
	}

	times, mean := MeanProfile(obs, opts.Output)
	data := append(series, mean)

	colors := make([]asciigraph.AnsiColor, len(data))
	for i := range series {
		colors[i] = asciigraph.Default
	}
	colors[len(data)-1] = asciigraph.Red

	caption := fmt.Sprintf("%s vs time, %d of %d individuals, mean in red (t = %g..%g)",
		opts.Output, len(series), len(ids), times[0], times[len(times)-1])

	return asciigraph.PlotMany(data,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(caption),
	), nil
}
