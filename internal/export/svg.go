package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/pksim/internal/storage"
	"github.com/san-kum/pksim/internal/viz"
)

type Point struct {
	X, Y float64
}

type Curve struct {
	Label  string
	Stroke string
	Width  float64
	Points []Point
}

type SVGOptions struct {
	Width  int
	Height int
	// LogY plots log10 of the values; non-positive points are dropped.
	LogY bool
}

func DefaultSVGOptions() SVGOptions {
	return SVGOptions{Width: 800, Height: 450}
}

// ConcentrationCurves builds one thin curve per individual and a thicker
// mean curve drawn last.
func ConcentrationCurves(obs []storage.Observation, output string) []Curve {
	byID := make(map[int]*Curve)
	var order []int
	for _, o := range obs {
		v, ok := o.Values[output]
		if !ok {
			continue
		}
		c, seen := byID[o.ID]
		if !seen {
			c = &Curve{Label: fmt.Sprintf("ID %d", o.ID), Stroke: "#4477aa", Width: 1}
			byID[o.ID] = c
			order = append(order, o.ID)
		}
		c.Points = append(c.Points, Point{X: o.Time, Y: v})
	}

	curves := make([]Curve, 0, len(order)+1)
	for _, id := range order {
		curves = append(curves, *byID[id])
	}

	times, means := viz.MeanProfile(obs, output)
	if len(times) > 0 {
		mean := Curve{Label: "mean", Stroke: "#ee3333", Width: 2.5}
		for i, t := range times {
			mean.Points = append(mean.Points, Point{X: t, Y: means[i]})
		}
		curves = append(curves, mean)
	}
	return curves
}

// CurvesToSVG draws all curves on shared axes.
func CurvesToSVG(curves []Curve, opts SVGOptions) (string, error) {
	transformed := make([]Curve, 0, len(curves))
	for _, c := range curves {
		tc := c
		tc.Points = nil
		for _, p := range c.Points {
			y := p.Y
			if opts.LogY {
				if y <= 0 {
					continue
				}
				y = math.Log10(y)
			}
			if math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			tc.Points = append(tc.Points, Point{X: p.X, Y: y})
		}
		if len(tc.Points) >= 2 {
			transformed = append(transformed, tc)
		}
	}
	if len(transformed) == 0 {
		return "", fmt.Errorf("nothing to draw: every curve has fewer than 2 points")
	}

	minX, maxX := transformed[0].Points[0].X, transformed[0].Points[0].X
	minY, maxY := transformed[0].Points[0].Y, transformed[0].Points[0].Y
	for _, c := range transformed {
		for _, p := range c.Points {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		}
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.05
	maxY += rangeY * 0.05
	rangeY = maxY - minY

	width, height := float64(opts.Width), float64(opts.Height)
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#ffffff"/>
`, opts.Width, opts.Height, opts.Width, opts.Height))

	for _, c := range transformed {
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="%.1f" d="M`, c.Stroke, c.Width))
		for i, p := range c.Points {
			x := (p.X - minX) / rangeX * width
			y := height - (p.Y-minY)/rangeY*height
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString(fmt.Sprintf(`"><title>%s</title></path>
`, c.Label))
	}

	sb.WriteString("</svg>\n")
	return sb.String(), nil
}
