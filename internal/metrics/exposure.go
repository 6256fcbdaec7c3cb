package metrics

import "github.com/san-kum/pksim/internal/pkmodel"

// Cmax is the peak observed value of one output.
type Cmax struct {
	name   string
	output string
	max    float64
	seen   bool
}

func NewCmax(output string) *Cmax {
	return &Cmax{name: "cmax", output: output}
}

func (c *Cmax) Name() string { return c.name }

func (c *Cmax) Observe(t float64, out pkmodel.Outputs) {
	v, ok := out[c.output]
	if !ok {
		return
	}
	if !c.seen || v > c.max {
		c.max = v
		c.seen = true
	}
}

func (c *Cmax) Value() float64 { return c.max }

func (c *Cmax) Reset() {
	c.max = 0
	c.seen = false
}

// Tmax is the first observation time at which Cmax is reached.
type Tmax struct {
	name   string
	output string
	max    float64
	tmax   float64
	seen   bool
}

func NewTmax(output string) *Tmax {
	return &Tmax{name: "tmax", output: output}
}

func (m *Tmax) Name() string { return m.name }

func (m *Tmax) Observe(t float64, out pkmodel.Outputs) {
	v, ok := out[m.output]
	if !ok {
		return
	}
	if !m.seen || v > m.max {
		m.max = v
		m.tmax = t
		m.seen = true
	}
}

func (m *Tmax) Value() float64 { return m.tmax }

func (m *Tmax) Reset() {
	m.max, m.tmax = 0, 0
	m.seen = false
}

// AUC is the linear trapezoidal area under an output over the observed times.
type AUC struct {
	name   string
	output string
	area   float64
	lastT  float64
	lastV  float64
	seen   bool
}

func NewAUC(output string) *AUC {
	return &AUC{name: "auc", output: output}
}

func (a *AUC) Name() string { return a.name }

func (a *AUC) Observe(t float64, out pkmodel.Outputs) {
	v, ok := out[a.output]
	if !ok {
		return
	}
	if a.seen {
		a.area += 0.5 * (v + a.lastV) * (t - a.lastT)
	}
	a.lastT, a.lastV = t, v
	a.seen = true
}

func (a *AUC) Value() float64 { return a.area }

func (a *AUC) Reset() {
	a.area, a.lastT, a.lastV = 0, 0, 0
	a.seen = false
}

// Exposure returns fresh Cmax, Tmax and AUC metrics over output.
func Exposure(output string) []Metric {
	return []Metric{NewCmax(output), NewTmax(output), NewAUC(output)}
}

type Metric interface {
	Name() string
	Observe(t float64, out pkmodel.Outputs)
	Value() float64
	Reset()
}
