// Package pkmodel is the evaluation core of the two-compartment model with
// first-order absorption and parallel linear and Michaelis-Menten
// elimination.
package pkmodel

import (
	"fmt"
	"math"

	"github.com/san-kum/pksim/internal/dynamo"
)

// Population typical values.
const (
	ParamCL   = "TVCL"
	ParamVC   = "TVVC"
	ParamQ    = "TVQ"
	ParamVP   = "TVVP"
	ParamKA   = "TVKA"
	ParamVMAX = "TVVMAX"
	ParamKM   = "TVKM"
)

// RequiredParams lists the parameters every model must declare.
var RequiredParams = []string{ParamCL, ParamVC, ParamQ, ParamVP, ParamKA, ParamVMAX, ParamKM}

// EtaDim is the number of random effects consumed by Individualize.
const EtaDim = 2

type ParameterTable map[string]float64

func (p ParameterTable) Get(name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, &dynamo.ConfigError{Field: "param." + name, Reason: "missing"}
	}
	return v, nil
}

// Validate checks that every required parameter is present and finite.
func (p ParameterTable) Validate() error {
	for _, name := range RequiredParams {
		v, err := p.Get(name)
		if err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &dynamo.ConfigError{Field: "param." + name, Reason: "not finite"}
		}
	}
	return nil
}

// IndividualParameters are fixed for the whole simulation of one individual.
type IndividualParameters struct {
	CL   float64 `json:"cl"`
	VC   float64 `json:"vc"`
	Q    float64 `json:"q"`
	VP   float64 `json:"vp"`
	KA   float64 `json:"ka"`
	VMAX float64 `json:"vmax"`
	KM   float64 `json:"km"`
}

// Individualize applies the random effects to the typical values. CL and
// VC are log-normal; the other parameters carry no between-subject
// variability.
func Individualize(p ParameterTable, eta []float64) (IndividualParameters, error) {
	if len(eta) < EtaDim {
		return IndividualParameters{}, &dynamo.ConfigError{
			Field:  "eta",
			Reason: fmt.Sprintf("need %d random effects, got %d", EtaDim, len(eta)),
		}
	}

	var ip IndividualParameters
	fields := []struct {
		name string
		dst  *float64
	}{
		{ParamCL, &ip.CL},
		{ParamVC, &ip.VC},
		{ParamQ, &ip.Q},
		{ParamVP, &ip.VP},
		{ParamKA, &ip.KA},
		{ParamVMAX, &ip.VMAX},
		{ParamKM, &ip.KM},
	}
	for _, f := range fields {
		v, err := p.Get(f.name)
		if err != nil {
			return IndividualParameters{}, err
		}
		*f.dst = v
	}

	ip.CL = ip.CL * math.Exp(eta[0])
	ip.VC = ip.VC * math.Exp(eta[1])
	return ip, nil
}

func (ip IndividualParameters) Map() map[string]float64 {
	return map[string]float64{
		"CL":   ip.CL,
		"VC":   ip.VC,
		"Q":    ip.Q,
		"VP":   ip.VP,
		"KA":   ip.KA,
		"VMAX": ip.VMAX,
		"KM":   ip.KM,
	}
}

// ParameterNames is the column order used when individual parameters are tabulated.
var ParameterNames = []string{"CL", "VC", "Q", "VP", "KA", "VMAX", "KM"}
