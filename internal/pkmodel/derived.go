package pkmodel

// Amounts is the named view of the three modeled compartments.
type Amounts struct {
	EV1    float64
	CENT   float64
	PERIPH float64
}

// CP is the central concentration.
func CP(a Amounts, ip IndividualParameters) float64 {
	return a.CENT / ip.VC
}

// CT is the peripheral concentration.
func CT(a Amounts, ip IndividualParameters) float64 {
	return a.PERIPH / ip.VP
}

// CLNL is the saturable Michaelis-Menten clearance at the current CP.
func CLNL(a Amounts, ip IndividualParameters) float64 {
	return ip.VMAX / (ip.KM + CP(a, ip))
}

// Derivative is the right-hand side of the mass balance. It has no explicit
// time dependence and may be evaluated at any state the integrator picks.
// Zero volumes or KM+CP=0 give non-finite values; callers detect them.
func Derivative(a Amounts, ip IndividualParameters) Amounts {
	cp := CP(a, ip)
	ct := CT(a, ip)
	clnl := CLNL(a, ip)

	return Amounts{
		EV1:    -ip.KA * a.EV1,
		CENT:   ip.KA*a.EV1 - (ip.CL+clnl+ip.Q)*cp + ip.Q*ct,
		PERIPH: ip.Q*cp - ip.Q*ct,
	}
}
