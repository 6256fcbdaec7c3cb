package export

import (
	"strings"
	"testing"

	"github.com/san-kum/pksim/internal/storage"
)

func obs() []storage.Observation {
	return []storage.Observation{
		{ID: 1, Time: 0, Values: map[string]float64{"CP": 0}},
		{ID: 1, Time: 1, Values: map[string]float64{"CP": 4}},
		{ID: 1, Time: 2, Values: map[string]float64{"CP": 2}},
		{ID: 2, Time: 0, Values: map[string]float64{"CP": 0}},
		{ID: 2, Time: 1, Values: map[string]float64{"CP": 2}},
		{ID: 2, Time: 2, Values: map[string]float64{"CP": 1}},
	}
}

func TestConcentrationCurves(t *testing.T) {
	curves := ConcentrationCurves(obs(), "CP")
	if len(curves) != 3 {
		t.Fatalf("expected 2 individuals and a mean, got %d curves", len(curves))
	}
	mean := curves[2]
	if mean.Label != "mean" || mean.Points[1].Y != 3 {
		t.Errorf("unexpected mean curve %+v", mean)
	}
}

func TestCurvesToSVG(t *testing.T) {
	svg, err := CurvesToSVG(ConcentrationCurves(obs(), "CP"), DefaultSVGOptions())
	if err != nil {
		t.Fatalf("svg failed: %v", err)
	}
	if strings.Count(svg, "<path") != 3 {
		t.Errorf("expected 3 paths:\n%s", svg)
	}
	if !strings.Contains(svg, "<title>mean</title>") {
		t.Error("mean curve missing")
	}
}

func TestCurvesToSVG_LogDropsZeros(t *testing.T) {
	svg, err := CurvesToSVG(ConcentrationCurves(obs(), "CP"), SVGOptions{Width: 100, Height: 100, LogY: true})
	if err != nil {
		t.Fatalf("svg failed: %v", err)
	}
	if strings.Contains(svg, "NaN") || strings.Contains(svg, "Inf") {
		t.Errorf("non-finite coordinate in:\n%s", svg)
	}

	if _, err := CurvesToSVG([]Curve{{Points: []Point{{0, 0}, {1, 0}}}}, SVGOptions{Width: 10, Height: 10, LogY: true}); err == nil {
		t.Error("expected error when nothing is drawable")
	}
}
