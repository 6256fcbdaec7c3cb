package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/pkmodel"
)

// Dose is a bolus when Rate is zero, otherwise a zero-order infusion lasting
// Amount/Rate. ADDL additional doses follow every II time units. A zero
// Amount delivers nothing.
type Dose struct {
	Time   float64
	Amount float64
	Cmt    string
	Rate   float64
	II     float64
	ADDL   int
}

// Design is what the driver needs besides the model: doses and the times
// at which outputs are reported.
type Design struct {
	Doses []Dose
	Times []float64
}

func (d Design) Validate(topo *pkmodel.Topology) error {
	if len(d.Times) == 0 {
		return &dynamo.ConfigError{Field: "times", Reason: "no observation times"}
	}
	for _, t := range d.Times {
		if !finite(t) || t < 0 {
			return &dynamo.ConfigError{Field: "times", Reason: fmt.Sprintf("invalid observation time %g", t)}
		}
	}

	for i, dose := range d.Doses {
		field := fmt.Sprintf("doses[%d]", i)
		if _, ok := topo.Index(dose.Cmt); !ok {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("unknown compartment %q", dose.Cmt)}
		}
		if !finite(dose.Time) || dose.Time < 0 {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("invalid time %g", dose.Time)}
		}
		if !finite(dose.Amount) || dose.Amount < 0 {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("invalid amount %g", dose.Amount)}
		}
		if !finite(dose.Rate) || dose.Rate < 0 {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("invalid rate %g", dose.Rate)}
		}
		if dose.ADDL < 0 {
			return &dynamo.ConfigError{Field: field, Reason: "addl must not be negative"}
		}
		if dose.ADDL > 0 && (!finite(dose.II) || dose.II <= 0) {
			return &dynamo.ConfigError{Field: field, Reason: "addl requires a positive ii"}
		}
	}
	return nil
}

type eventKind int

// Order of events sharing a time.
const (
	eventInfusionEnd eventKind = iota
	eventDose
	eventObserve
)

type event struct {
	time   float64
	kind   eventKind
	cmt    int
	amount float64
	rate   float64
}

// events expands additional doses and infusion ends and returns every event
// in processing order.
func (d Design) events(topo *pkmodel.Topology) []event {
	evs := make([]event, 0, len(d.Times)+len(d.Doses))

	for _, dose := range d.Doses {
		if dose.Amount == 0 {
			// nothing to deliver; an infusion without amount has no end
			continue
		}
		cmt, _ := topo.Index(dose.Cmt)
		for k := 0; k <= dose.ADDL; k++ {
			start := dose.Time + float64(k)*dose.II
			evs = append(evs, event{time: start, kind: eventDose, cmt: cmt, amount: dose.Amount, rate: dose.Rate})
			if dose.Rate > 0 {
				evs = append(evs, event{time: start + dose.Amount/dose.Rate, kind: eventInfusionEnd, cmt: cmt, rate: dose.Rate})
			}
		}
	}
	for _, t := range d.Times {
		evs = append(evs, event{time: t, kind: eventObserve})
	}

	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].time != evs[j].time {
			return evs[i].time < evs[j].time
		}
		return evs[i].kind < evs[j].kind
	})
	return evs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
