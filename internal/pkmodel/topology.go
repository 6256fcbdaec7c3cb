package pkmodel

import (
	"fmt"

	"github.com/san-kum/pksim/internal/dynamo"
)

// Compartment names the model equations refer to.
const (
	CmtEV1    = "EV1"
	CmtCENT   = "CENT"
	CmtPERIPH = "PERIPH"
)

type Compartment struct {
	Index       int
	Name        string
	Description string
	Initial     float64
}

// Topology is the ordered compartment list; the order is the state layout.
type Topology struct {
	cmts  []Compartment
	index map[string]int
}

func NewTopology(cmts ...Compartment) (*Topology, error) {
	if len(cmts) == 0 {
		return nil, &dynamo.ConfigError{Field: "cmt", Reason: "no compartments declared"}
	}

	t := &Topology{
		cmts:  make([]Compartment, len(cmts)),
		index: make(map[string]int, len(cmts)),
	}
	for i, c := range cmts {
		if c.Name == "" {
			return nil, &dynamo.ConfigError{Field: "cmt", Reason: fmt.Sprintf("compartment %d has no name", i+1)}
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, &dynamo.ConfigError{Field: "cmt", Reason: fmt.Sprintf("duplicate compartment %q", c.Name)}
		}
		c.Index = i
		t.cmts[i] = c
		t.index[c.Name] = i
	}
	return t, nil
}

func (t *Topology) Len() int { return len(t.cmts) }

func (t *Topology) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Topology) Compartment(i int) Compartment { return t.cmts[i] }

func (t *Topology) Names() []string {
	names := make([]string, len(t.cmts))
	for i, c := range t.cmts {
		names[i] = c.Name
	}
	return names
}

func (t *Topology) InitialState() dynamo.State {
	x := make(dynamo.State, len(t.cmts))
	for i, c := range t.cmts {
		x[i] = c.Initial
	}
	return x
}
