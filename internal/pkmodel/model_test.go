package pkmodel_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/integrators"
	"github.com/san-kum/pksim/internal/pkmodel"
	"github.com/san-kum/pksim/internal/randeff"
)

func typicalTable() pkmodel.ParameterTable {
	return pkmodel.ParameterTable{
		"TVCL": 1, "TVVC": 20, "TVQ": 2, "TVVP": 10, "TVKA": 1, "TVVMAX": 10, "TVKM": 2,
	}
}

func declaredModel() *pkmodel.Model {
	topo, err := pkmodel.NewTopology(
		pkmodel.Compartment{Name: "EV1", Description: "First extravascular compartment (mass)"},
		pkmodel.Compartment{Name: "CENT", Description: "Central compartment (mass)"},
		pkmodel.Compartment{Name: "PERIPH", Description: "Peripheral compartment (mass)"},
	)
	Expect(err).NotTo(HaveOccurred())

	omega, err := randeff.FromBlock("omega", []float64{0.1, 0.02, 0.3}, false)
	Expect(err).NotTo(HaveOccurred())
	sigma, err := randeff.Diagonal("sigma", []float64{0.01})
	Expect(err).NotTo(HaveOccurred())

	m, err := pkmodel.New("2cmtnl", typicalTable(), topo, omega, sigma, nil)
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Individualize", func() {
	It("returns the typical values at ETA = 0", func() {
		ip, err := pkmodel.Individualize(typicalTable(), []float64{0, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(ip).To(Equal(pkmodel.IndividualParameters{
			CL: 1, VC: 20, Q: 2, VP: 10, KA: 1, VMAX: 10, KM: 2,
		}))
	})

	DescribeTable("applies the log-normal transform to CL and VC only",
		func(eta0, eta1 float64) {
			ip, err := pkmodel.Individualize(typicalTable(), []float64{eta0, eta1})
			Expect(err).NotTo(HaveOccurred())
			Expect(ip.CL).To(Equal(math.Exp(eta0)))
			Expect(ip.VC).To(Equal(20 * math.Exp(eta1)))
			Expect(ip.CL).To(BeNumerically(">", 0))
			Expect(ip.VC).To(BeNumerically(">", 0))
			Expect(ip.Q).To(Equal(2.0))
			Expect(ip.VP).To(Equal(10.0))
			Expect(ip.KA).To(Equal(1.0))
			Expect(ip.VMAX).To(Equal(10.0))
			Expect(ip.KM).To(Equal(2.0))
		},
		Entry("positive", 0.3, 0.7),
		Entry("negative", -1.2, -0.4),
		Entry("mixed", 2.5, -3.0),
	)

	It("rejects a short ETA vector", func() {
		_, err := pkmodel.Individualize(typicalTable(), []float64{0.1})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("rejects a table missing a required parameter", func() {
		table := typicalTable()
		delete(table, "TVKM")
		_, err := pkmodel.Individualize(table, []float64{0, 0})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
		Expect(err.Error()).To(ContainSubstring("TVKM"))
	})
})

var _ = Describe("Derived quantities", func() {
	ip := pkmodel.IndividualParameters{CL: 1, VC: 20, Q: 2, VP: 10, KA: 1, VMAX: 10, KM: 2}

	It("has CP = 0 and CLNL = VMAX/KM for an empty central compartment", func() {
		a := pkmodel.Amounts{EV1: 40, CENT: 0, PERIPH: 5}
		Expect(pkmodel.CP(a, ip)).To(Equal(0.0))
		Expect(pkmodel.CLNL(a, ip)).To(Equal(5.0))
	})

	It("divides amounts by volumes", func() {
		a := pkmodel.Amounts{CENT: 40, PERIPH: 5}
		Expect(pkmodel.CP(a, ip)).To(Equal(2.0))
		Expect(pkmodel.CT(a, ip)).To(Equal(0.5))
		Expect(pkmodel.CLNL(a, ip)).To(Equal(2.5))
	})

	It("produces non-finite values when a volume collapses", func() {
		bad := ip
		bad.VC = 0
		d := pkmodel.Derivative(pkmodel.Amounts{CENT: 1}, bad)
		Expect(math.IsInf(d.CENT, 0) || math.IsNaN(d.CENT)).To(BeTrue())
	})
})

var _ = Describe("Model", func() {
	var m *pkmodel.Model

	BeforeEach(func() {
		m = declaredModel()
	})

	It("returns the absorption-only derivative right after an oral dose", func() {
		sys := m.System(m.Typical())
		dx := sys.Derive(dynamo.State{100, 0, 0}, nil, 0)
		Expect(dx).To(Equal(dynamo.State{-100, 100, 0}))
	})

	It("adds zero-order input to the derivative", func() {
		sys := m.System(m.Typical())
		dx := sys.Derive(dynamo.State{0, 0, 0}, dynamo.Control{0, 50, 0}, 0)
		Expect(dx).To(Equal(dynamo.State{0, 50, 0}))
	})

	It("captures exactly CP and DV by default", func() {
		out, err := m.Output(dynamo.State{0, 40, 0}, m.Typical(), []float64{0.1})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
		Expect(out).To(HaveKeyWithValue("CP", 2.0))
		Expect(out["DV"]).To(BeNumerically("~", 2.2, 1e-12))
	})

	It("returns DV equal to CP when EPS is zero", func() {
		out, err := m.Output(dynamo.State{3, 17.3, 4}, m.Typical(), []float64{0})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["DV"]).To(Equal(out["CP"]))
	})

	It("requires one EPS term", func() {
		_, err := m.Output(dynamo.State{0, 1, 0}, m.Typical(), nil)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("conserves mass without elimination", func() {
		ip := m.Typical()
		ip.CL, ip.VMAX, ip.Q = 0, 0, 0

		cfg := dynamo.DefaultConfig()
		cfg.Tolerance = 1e-9
		stepper := dynamo.NewStepper(m.System(ip), integrators.NewRK45(), cfg)

		x := dynamo.State{100, 0, 0}
		t0 := 0.0
		for _, t1 := range []float64{0.5, 2, 8, 24} {
			var err error
			x, err = stepper.Advance(x, nil, t0, t1)
			Expect(err).NotTo(HaveOccurred())
			Expect(x.Sum()).To(BeNumerically("~", 100, 1e-6))
			t0 = t1
		}
		Expect(x[0]).To(BeNumerically("<", 1e-6))
	})

	It("loses mass once elimination is on", func() {
		stepper := dynamo.NewStepper(m.System(m.Typical()), integrators.NewRK45(), dynamo.DefaultConfig())
		x, err := stepper.Advance(dynamo.State{100, 0, 0}, nil, 0, 24)
		Expect(err).NotTo(HaveOccurred())
		Expect(x.Sum()).To(BeNumerically("<", 100))
		Expect(x.Sum()).To(BeNumerically(">", 0))
	})
})

var _ = Describe("New", func() {
	var (
		topo         *pkmodel.Topology
		omega, sigma *randeff.Matrix
	)

	BeforeEach(func() {
		var err error
		topo, err = pkmodel.NewTopology(
			pkmodel.Compartment{Name: "EV1"},
			pkmodel.Compartment{Name: "CENT"},
			pkmodel.Compartment{Name: "PERIPH"},
		)
		Expect(err).NotTo(HaveOccurred())
		omega, err = randeff.FromBlock("omega", []float64{0.1, 0.02, 0.3}, false)
		Expect(err).NotTo(HaveOccurred())
		sigma, err = randeff.Diagonal("sigma", []float64{0.01})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a topology without the central compartment", func() {
		other, err := pkmodel.NewTopology(pkmodel.Compartment{Name: "EV1"}, pkmodel.Compartment{Name: "PERIPH"})
		Expect(err).NotTo(HaveOccurred())
		_, err = pkmodel.New("x", typicalTable(), other, omega, sigma, nil)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("rejects an OMEGA smaller than the ETA vector", func() {
		small, err := randeff.Diagonal("omega", []float64{0.1})
		Expect(err).NotTo(HaveOccurred())
		_, err = pkmodel.New("x", typicalTable(), topo, small, sigma, nil)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("rejects unknown capture names", func() {
		_, err := pkmodel.New("x", typicalTable(), topo, omega, sigma, []string{"CP", "AUC"})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("copies the parameter table", func() {
		table := typicalTable()
		m, err := pkmodel.New("x", table, topo, omega, sigma, nil)
		Expect(err).NotTo(HaveOccurred())
		table["TVCL"] = 99
		Expect(m.Params["TVCL"]).To(Equal(1.0))
	})

	It("rejects duplicate compartment names", func() {
		_, err := pkmodel.NewTopology(pkmodel.Compartment{Name: "CENT"}, pkmodel.Compartment{Name: "CENT"})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})
})
