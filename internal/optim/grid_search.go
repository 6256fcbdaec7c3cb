package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pksim/internal/config"
	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/experiment"
	"github.com/san-kum/pksim/internal/storage"
)

// DoseAxis scales every dose amount (and infusion rate, keeping durations)
// by the grid value.
const DoseAxis = "dose"

// Point is one evaluated grid point with the population mean metrics.
type Point struct {
	Values    map[string]float64
	Metrics   map[string]float64
	Failed    int
	Objective float64
}

// GridSearch evaluates every combination of the axis values. An axis is a
// typical-value parameter name or DoseAxis.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, &dynamo.ConfigError{Field: "grid", Reason: "need one value list per axis"}
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, &dynamo.ConfigError{Field: "grid", Reason: fmt.Sprintf("axis %s has no values", params[i])}
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Apply returns a copy of base with one grid point applied.
func Apply(base *config.Config, point map[string]float64) (*config.Config, error) {
	cfg := base.Clone()
	for name, v := range point {
		if name == DoseAxis {
			for i := range cfg.Doses {
				cfg.Doses[i].Amount *= v
				cfg.Doses[i].Rate *= v
			}
			continue
		}
		if _, ok := cfg.Model.Params[name]; !ok {
			return nil, &dynamo.ConfigError{Field: "grid", Reason: fmt.Sprintf("unknown axis %q", name)}
		}
		cfg.Model.Params[name] = v
	}
	return cfg, nil
}

// Search runs the base configuration at every grid point and scores the
// population mean of metric with objective. Points come back sorted by
// objective, best first. Grid points whose whole population fails score +Inf.
func (g *GridSearch) Search(ctx context.Context, base *config.Config, reg *experiment.Registry, metric string, objective func(float64) float64) ([]Point, error) {
	var points []Point
	err := g.searchRecursive(ctx, 0, make(map[string]float64), func(current map[string]float64) error {
		p, err := evaluate(ctx, base, reg, current, metric, objective)
		if err != nil {
			return err
		}
		points = append(points, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Objective < points[j].Objective })
	return points, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, visit func(map[string]float64) error) error {
	if depth == len(g.paramNames) {
		return visit(current)
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		if err := ctx.Err(); err != nil {
			return err
		}
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, visit); err != nil {
			return err
		}
	}
	return nil
}

func evaluate(ctx context.Context, base *config.Config, reg *experiment.Registry, values map[string]float64, metric string, objective func(float64) float64) (Point, error) {
	cfg, err := Apply(base, values)
	if err != nil {
		return Point{}, err
	}
	exp, err := experiment.New(cfg, reg)
	if err != nil {
		return Point{}, err
	}
	result, err := exp.Run(ctx)
	if err != nil {
		return Point{}, err
	}

	p := Point{
		Values:    values,
		Metrics:   storage.MeanMetrics(result.Profiles),
		Failed:    len(result.Failures),
		Objective: math.Inf(1),
	}
	if len(result.Profiles) > 0 {
		v, ok := p.Metrics[metric]
		if !ok {
			return Point{}, fmt.Errorf("unknown metric %q", metric)
		}
		p.Objective = objective(v)
	}

	logrus.Debugf("grid point %s: %s=%g", FormatValues(values), metric, p.Metrics[metric])
	return p, nil
}

// Target scores a metric by its distance to goal.
func Target(goal float64) func(float64) float64 {
	return func(v float64) float64 { return math.Abs(v - goal) }
}

func Minimize(v float64) float64 { return v }

// FormatValues renders a grid point as name=value pairs in name order.
func FormatValues(values map[string]float64) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, values[name])
	}
	return strings.Join(parts, " ")
}

var errEmptyAxis = errors.New("empty axis")

// ParseAxis parses "name=v1,v2,..." into an axis name and its values.
func ParseAxis(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("axis %q: want name=v1,v2,...", s)
	}
	var values []float64
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		var v float64
		if _, err := fmt.Sscan(field, &v); err != nil {
			return "", nil, fmt.Errorf("axis %s: %w", name, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("axis %s: %w", name, errEmptyAxis)
	}
	return name, values, nil
}
