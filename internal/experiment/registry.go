package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/integrators"
	"github.com/san-kum/pksim/internal/metrics"
	"github.com/san-kum/pksim/internal/pkmodel"
)

type Registry struct {
	integrators map[string]func() dynamo.Integrator
	metrics     map[string]func(output string) []metrics.Metric
}

func NewRegistry() *Registry {
	r := &Registry{
		integrators: make(map[string]func() dynamo.Integrator),
		metrics:     make(map[string]func(output string) []metrics.Metric),
	}

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["rk45"] = func() dynamo.Integrator { return integrators.NewRK45() }

	r.metrics["exposure"] = metrics.Exposure

	return r
}

// Integrator returns a constructor, since every individual needs its own
// integrator instance.
func (r *Registry) Integrator(name string) (func() dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, &dynamo.ConfigError{Field: "run.integrator", Reason: fmt.Sprintf("unknown integrator %q (valid: %v)", name, r.ListIntegrators())}
	}
	return fn, nil
}

func (r *Registry) ListIntegrators() []string {
	names := make([]string, 0, len(r.integrators))
	for name := range r.integrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics is Cmax, Tmax and AUC of output.
func (r *Registry) DefaultMetrics(output string) func() []metrics.Metric {
	exposure := r.metrics["exposure"]
	return func() []metrics.Metric { return exposure(output) }
}

// ExposureOutput is the captured quantity the exposure metrics summarize:
// CP when captured, otherwise the first capture.
func ExposureOutput(capture []string) string {
	for _, name := range capture {
		if name == pkmodel.OutCP {
			return name
		}
	}
	if len(capture) > 0 {
		return capture[0]
	}
	return pkmodel.OutCP
}
