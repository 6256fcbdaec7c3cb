package viz

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/san-kum/pksim/internal/pkmodel"
)

// EvalReport writes the individual parameters, derived quantities and
// derivatives of m at amounts a for random effects eta.
func EvalReport(w io.Writer, m *pkmodel.Model, eta []float64, a pkmodel.Amounts) error {
	ip, err := m.Individualize(eta)
	if err != nil {
		return err
	}
	x := m.State(a)
	out, err := m.Output(x, ip, []float64{0})
	if err != nil {
		return err
	}
	dx := m.System(ip).Derive(x, nil, 0)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	params := ip.Map()
	for _, name := range pkmodel.ParameterNames {
		fmt.Fprintf(tw, "%s\t%g\n", name, params[name])
	}
	fmt.Fprintln(tw)
	for i := 0; i < m.Omega.Dim() && i < len(eta); i++ {
		fmt.Fprintf(tw, "ETA%d\t%g\t(sd %g)\n", i+1, eta[i], math.Sqrt(m.Omega.Variance(i)))
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "CP\t%g\n", pkmodel.CP(a, ip))
	fmt.Fprintf(tw, "CT\t%g\n", pkmodel.CT(a, ip))
	fmt.Fprintf(tw, "CLNL\t%g\n", pkmodel.CLNL(a, ip))
	if v, ok := out[pkmodel.OutDV]; ok {
		fmt.Fprintf(tw, "DV (EPS=0)\t%g\n", v)
	}
	fmt.Fprintln(tw)
	for i := 0; i < m.Topology.Len(); i++ {
		c := m.Topology.Compartment(i)
		fmt.Fprintf(tw, "d%s/dt\t%g\t%s\n", c.Name, dx[i], c.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !dx.IsValid() {
		_, err := fmt.Fprintln(w, StatusFailed.Render("non-finite derivative"))
		return err
	}
	return nil
}
