package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/pksim/internal/dynamo"
)

// Observer is notified after each individual finishes. Calls come from
// worker goroutines concurrently.
type Observer interface {
	OnSubject(id int, err error)
}

type Failure struct {
	ID  int
	Err error
}

type Result struct {
	Profiles []*Profile
	Failures []Failure
	Elapsed  time.Duration
}

// Population simulates individuals 1..size in parallel.
type Population struct {
	sim       *Simulator
	size      int
	seed      int64
	workers   int
	observers []Observer
}

func NewPopulation(sim *Simulator, size int, seed int64, workers int) *Population {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Population{sim: sim, size: size, seed: seed, workers: workers}
}

func (p *Population) AddObserver(o Observer) { p.observers = append(p.observers, o) }

// Run simulates the whole population. Integration failures are reported per
// individual in Result.Failures; configuration errors and cancellation abort
// the run.
func (p *Population) Run(ctx context.Context, design Design) (*Result, error) {
	if p.size < 1 {
		return nil, &dynamo.ConfigError{Field: "individuals", Reason: fmt.Sprintf("must be at least 1, got %d", p.size)}
	}
	model := p.sim.Model()
	if err := design.Validate(model.Topology); err != nil {
		return nil, err
	}

	logrus.Infof("simulating %d individuals of %s with %d workers", p.size, model.Name, p.workers)
	start := time.Now()

	streams := NewStreams(p.seed)
	profiles := make([]*Profile, p.size)
	failures := make([]error, p.size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 0; i < p.size; i++ {
		id := i + 1
		g.Go(func() error {
			eta := model.Omega.Draw(streams.Subject(SubsystemEta, id), nil)
			prof, err := p.sim.RunSubject(gctx, id, eta, streams.Subject(SubsystemEps, id), design)
			p.notify(id, err)

			if err != nil {
				var simErr *dynamo.SimulationError
				if !errors.As(err, &simErr) {
					return err
				}
				logrus.Warnf("subject %d aborted: %v", id, err)
				failures[i] = err
				return nil
			}
			profiles[i] = prof
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Profiles: make([]*Profile, 0, p.size),
		Elapsed:  time.Since(start),
	}
	for i := range profiles {
		if failures[i] != nil {
			result.Failures = append(result.Failures, Failure{ID: i + 1, Err: failures[i]})
			continue
		}
		result.Profiles = append(result.Profiles, profiles[i])
	}

	logrus.Infof("population done in %v: %d simulated, %d failed", result.Elapsed, len(result.Profiles), len(result.Failures))
	return result, nil
}

func (p *Population) notify(id int, err error) {
	for _, o := range p.observers {
		o.OnSubject(id, err)
	}
}
