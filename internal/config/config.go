package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/engine"
	"github.com/san-kum/pksim/internal/pkmodel"
	"github.com/san-kum/pksim/internal/randeff"
)

const (
	DefaultIntegrator  = "rk45"
	DefaultDt          = 0.05
	DefaultTolerance   = 1e-6
	DefaultMinDt       = 1e-9
	DefaultMaxDt       = 1.0
	DefaultMaxSteps    = 1_000_000
	DefaultEnd         = 24.0
	DefaultDelta       = 0.5
	DefaultIndividuals = 10
	DefaultSeed        = 1
	DefaultDoseAmount  = 100.0

	// MaxObservations bounds the merged observation grid of one individual.
	MaxObservations = 100_000
)

type Config struct {
	Model ModelConfig  `yaml:"model"`
	Run   RunConfig    `yaml:"run"`
	Doses []DoseConfig `yaml:"doses"`
}

type ModelConfig struct {
	Name         string              `yaml:"name"`
	Params       map[string]float64  `yaml:"param"`
	Compartments []CompartmentConfig `yaml:"cmt"`
	Omega        MatrixConfig        `yaml:"omega"`
	Sigma        MatrixConfig        `yaml:"sigma"`
	Capture      []string            `yaml:"capture,flow"`
}

type CompartmentConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Init        float64 `yaml:"init,omitempty"`
}

// MatrixConfig declares OMEGA or SIGMA. Without block the values are
// independent variances; with block they are the lower triangle row by row.
type MatrixConfig struct {
	Block       bool      `yaml:"block,omitempty"`
	Correlation bool      `yaml:"correlation,omitempty"`
	Values      []float64 `yaml:"values,flow"`
}

type RunConfig struct {
	Integrator  string    `yaml:"integrator"`
	Adaptive    bool      `yaml:"adaptive"`
	Dt          float64   `yaml:"dt"`
	Tolerance   float64   `yaml:"tolerance"`
	MinDt       float64   `yaml:"min_dt"`
	MaxDt       float64   `yaml:"max_dt"`
	MaxSteps    int       `yaml:"max_steps"`
	End         float64   `yaml:"end"`
	Delta       float64   `yaml:"delta"`
	Times       []float64 `yaml:"times,flow,omitempty"`
	Individuals int       `yaml:"individuals"`
	Seed        int64     `yaml:"seed"`
	Workers     int       `yaml:"workers"`
}

type DoseConfig struct {
	Time   float64 `yaml:"time"`
	Amount float64 `yaml:"amt"`
	Cmt    string  `yaml:"cmt"`
	Rate   float64 `yaml:"rate,omitempty"`
	II     float64 `yaml:"ii,omitempty"`
	ADDL   int     `yaml:"addl,omitempty"`
}

// DefaultConfig declares the two-compartment model with nonlinear clearance
// and a single oral dose observed over one day.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: "2cmtnl",
			Params: map[string]float64{
				pkmodel.ParamCL:   1,
				pkmodel.ParamVC:   20,
				pkmodel.ParamQ:    2,
				pkmodel.ParamVP:   10,
				pkmodel.ParamKA:   1,
				pkmodel.ParamVMAX: 10,
				pkmodel.ParamKM:   2,
			},
			Compartments: []CompartmentConfig{
				{Name: pkmodel.CmtEV1, Description: "First extravascular compartment (mass)"},
				{Name: pkmodel.CmtCENT, Description: "Central compartment (mass)"},
				{Name: pkmodel.CmtPERIPH, Description: "Peripheral compartment (mass)"},
			},
			Omega:   MatrixConfig{Block: true, Values: []float64{0.1, 0.02, 0.3}},
			Sigma:   MatrixConfig{Values: []float64{0.01}},
			Capture: []string{pkmodel.OutCP, pkmodel.OutDV},
		},
		Run: RunConfig{
			Integrator:  DefaultIntegrator,
			Adaptive:    true,
			Dt:          DefaultDt,
			Tolerance:   DefaultTolerance,
			MinDt:       DefaultMinDt,
			MaxDt:       DefaultMaxDt,
			MaxSteps:    DefaultMaxSteps,
			End:         DefaultEnd,
			Delta:       DefaultDelta,
			Individuals: DefaultIndividuals,
			Seed:        DefaultSeed,
		},
		Doses: []DoseConfig{
			{Time: 0, Amount: DefaultDoseAmount, Cmt: pkmodel.CmtEV1},
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate builds everything once so that configuration errors surface
// before any individual is simulated.
func (c *Config) Validate() error {
	if c.Run.Individuals < 1 {
		return &dynamo.ConfigError{Field: "run.individuals", Reason: fmt.Sprintf("must be at least 1, got %d", c.Run.Individuals)}
	}
	if c.Run.Workers < 0 {
		return &dynamo.ConfigError{Field: "run.workers", Reason: "must not be negative"}
	}
	if err := c.StepConfig().Validate(); err != nil {
		return err
	}
	model, err := c.BuildModel()
	if err != nil {
		return err
	}
	design, err := c.Design()
	if err != nil {
		return err
	}
	return design.Validate(model.Topology)
}

func (c *Config) BuildModel() (*pkmodel.Model, error) {
	cmts := make([]pkmodel.Compartment, len(c.Model.Compartments))
	for i, cc := range c.Model.Compartments {
		cmts[i] = pkmodel.Compartment{Name: cc.Name, Description: cc.Description, Initial: cc.Init}
	}
	topo, err := pkmodel.NewTopology(cmts...)
	if err != nil {
		return nil, err
	}

	omega, err := c.Model.Omega.matrix("omega")
	if err != nil {
		return nil, err
	}
	sigma, err := c.Model.Sigma.matrix("sigma")
	if err != nil {
		return nil, err
	}

	return pkmodel.New(c.Model.Name, pkmodel.ParameterTable(c.Model.Params), topo, omega, sigma, c.Model.Capture)
}

// UnmarshalYAML replaces the matrix as a whole: a file that sets a matrix
// does not inherit block or correlation from the defaults.
func (m *MatrixConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch key := node.Content[i]; key.Value {
			case "block", "correlation", "values":
			default:
				return fmt.Errorf("line %d: field %s not found in matrix", key.Line, key.Value)
			}
		}
	}
	type plain MatrixConfig
	var fresh plain
	if err := node.Decode(&fresh); err != nil {
		return err
	}
	*m = MatrixConfig(fresh)
	return nil
}

func (m MatrixConfig) matrix(name string) (*randeff.Matrix, error) {
	if m.Block {
		return randeff.FromBlock(name, m.Values, m.Correlation)
	}
	if m.Correlation {
		return nil, &dynamo.ConfigError{Field: name, Reason: "correlation requires block"}
	}
	return randeff.Diagonal(name, m.Values)
}

// Design returns the dose schedule and the observation grid 0:delta:end
// merged with the explicit times.
func (c *Config) Design() (engine.Design, error) {
	r := c.Run
	if r.Delta < 0 || r.End < 0 || math.IsNaN(r.Delta) || math.IsNaN(r.End) {
		return engine.Design{}, &dynamo.ConfigError{Field: "run.end/run.delta", Reason: "must not be negative"}
	}

	times := append([]float64(nil), r.Times...)
	if r.Delta > 0 {
		count := math.Floor(r.End/r.Delta+1e-9) + 1 + float64(len(times))
		if math.IsInf(r.End, 0) || count > MaxObservations {
			return engine.Design{}, &dynamo.ConfigError{
				Field:  "run.end/run.delta",
				Reason: fmt.Sprintf("grid exceeds %d observation times", MaxObservations),
			}
		}
		n := int(math.Floor(r.End/r.Delta + 1e-9))
		for i := 0; i <= n; i++ {
			times = append(times, float64(i)*r.Delta)
		}
	}
	if len(times) == 0 {
		return engine.Design{}, &dynamo.ConfigError{Field: "run.times", Reason: "no observation times (set delta or times)"}
	}
	if len(times) > MaxObservations {
		return engine.Design{}, &dynamo.ConfigError{Field: "run.times", Reason: fmt.Sprintf("more than %d observation times", MaxObservations)}
	}
	sort.Float64s(times)
	uniq := times[:1]
	for _, t := range times[1:] {
		if t != uniq[len(uniq)-1] {
			uniq = append(uniq, t)
		}
	}

	doses := make([]engine.Dose, len(c.Doses))
	for i, d := range c.Doses {
		doses[i] = engine.Dose{Time: d.Time, Amount: d.Amount, Cmt: d.Cmt, Rate: d.Rate, II: d.II, ADDL: d.ADDL}
	}
	return engine.Design{Doses: doses, Times: uniq}, nil
}

func (c *Config) StepConfig() dynamo.Config {
	return dynamo.Config{
		Dt:            c.Run.Dt,
		Tolerance:     c.Run.Tolerance,
		MinDt:         c.Run.MinDt,
		MaxDt:         c.Run.MaxDt,
		MaxSteps:      c.Run.MaxSteps,
		Adaptive:      c.Run.Adaptive,
		ValidateState: true,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Model.Params = make(map[string]float64, len(c.Model.Params))
	for k, v := range c.Model.Params {
		out.Model.Params[k] = v
	}
	out.Model.Compartments = append([]CompartmentConfig(nil), c.Model.Compartments...)
	out.Model.Omega.Values = append([]float64(nil), c.Model.Omega.Values...)
	out.Model.Sigma.Values = append([]float64(nil), c.Model.Sigma.Values...)
	out.Model.Capture = append([]string(nil), c.Model.Capture...)
	out.Run.Times = append([]float64(nil), c.Run.Times...)
	out.Doses = append([]DoseConfig(nil), c.Doses...)
	return &out
}
