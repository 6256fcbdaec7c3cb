package dynamo

import (
	"errors"
	"math"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"zeros", State{0.0, 0.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_NormAndSum(t *testing.T) {
	tests := []struct {
		state State
		norm  float64
		sum   float64
	}{
		{State{3, 4}, 5.0, 7.0},
		{State{1, 0}, 1.0, 1.0},
		{State{0, 0}, 0.0, 0.0},
		{State{1, 1, 1, 1}, 2.0, 4.0},
	}

	for _, tt := range tests {
		if got := tt.state.Norm(); math.Abs(got-tt.norm) > 1e-10 {
			t.Errorf("Norm(%v) = %v, want %v", tt.state, got, tt.norm)
		}
		if got := tt.state.Sum(); got != tt.sum {
			t.Errorf("Sum(%v) = %v, want %v", tt.state, got, tt.sum)
		}
	}
}

func TestState_Arithmetic(t *testing.T) {
	a := State{1, 2, 3}
	b := State{4, 5, 6}

	sum := a.Add(b)
	if sum[0] != 5 || sum[1] != 7 || sum[2] != 9 {
		t.Errorf("Add failed: got %v", sum)
	}

	diff := b.Sub(a)
	if diff[0] != 3 || diff[1] != 3 || diff[2] != 3 {
		t.Errorf("Sub failed: got %v", diff)
	}

	scaled := a.Scale(2)
	if scaled[0] != 2 || scaled[1] != 4 || scaled[2] != 6 {
		t.Errorf("Scale failed: got %v", scaled)
	}

	c := a.Clone()
	c[0] = 99
	if a[0] == 99 {
		t.Error("Clone did not create independent copy")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dt", func(c *Config) { c.Dt = 0 }},
		{"negative dt", func(c *Config) { c.Dt = -0.1 }},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"min above max", func(c *Config) { c.MinDt, c.MaxDt = 1, 0.1 }},
		{"negative max steps", func(c *Config) { c.MaxSteps = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestSimulationError(t *testing.T) {
	err := &SimulationError{Subject: 3, Time: 1.5, Step: 150, Wrapped: ErrNumericDomain}
	expected := "subject 3, step 150 (t=1.5000): dynamo: non-finite state (NaN or Inf detected)"
	if err.Error() != expected {
		t.Errorf("SimulationError.Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, ErrNumericDomain) {
		t.Error("SimulationError should unwrap to ErrNumericDomain")
	}
}
