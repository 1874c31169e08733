// Package units converts a normalized block from the stored SI units to the
// units written to the output files.
package units

import (
	"fmt"

	"chessscape/internal/types"
)

// Conversion constants.
const (
	SecondsPerDay   = 86400
	JoulesPerMJ     = 1e6
	KelvinOffset    = 273.15
	PascalsPerKPa   = 1000
	epsilon         = 0.622 // ratio of molar masses of water vapour and dry air
	oneMinusEpsilon = 0.378
)

// RadiationMJ converts W m-2 to MJ m-2 day-1.
func RadiationMJ(wm2 float64) float64 { return wm2 / JoulesPerMJ * SecondsPerDay }

// RadiationWm2 is the inverse of RadiationMJ.
func RadiationWm2(mj float64) float64 { return mj / SecondsPerDay * JoulesPerMJ }

// Celsius converts K to degC.
func Celsius(k float64) float64 { return k - KelvinOffset }

// Kelvin is the inverse of Celsius.
func Kelvin(c float64) float64 { return c + KelvinOffset }

// RainMM converts kg m-2 s-1 to mm day-1.
func RainMM(flux float64) float64 { return flux * SecondsPerDay }

// RainFlux is the inverse of RainMM.
func RainFlux(mm float64) float64 { return mm / SecondsPerDay }

// VapourPressure returns kPa from specific humidity (kg kg-1) and surface
// pressure (Pa).
func VapourPressure(huss, psurf float64) float64 {
	return (huss * (psurf / PascalsPerKPa)) / (epsilon + oneMinusEpsilon*huss)
}

// SpecificHumidity inverts VapourPressure for a known surface pressure.
func SpecificHumidity(vp, psurf float64) float64 {
	p := psurf / PascalsPerKPa
	return epsilon * vp / (p - oneMinusEpsilon*vp)
}

// Required lists the variables Convert reads.
var Required = []string{types.VarRsds, types.VarTasmax, types.VarTasmin, types.VarHuss, types.VarPsurf, types.VarPr, types.VarSfcWind}

// Convert rewrites b's variables in place and adds vp. Vapour pressure is
// derived from the raw huss and psurf before anything else changes. Wind is
// already in m s-1. Arithmetic is done in float64.
func Convert(b *types.Block) error {
	for _, name := range Required {
		if _, ok := b.Vars[name]; !ok {
			return types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("block has no %s variable", name),
				nil,
			)
		}
	}

	huss, psurf := b.Vars[types.VarHuss], b.Vars[types.VarPsurf]
	vp := make([]float32, len(huss))
	for i := range vp {
		vp[i] = float32(VapourPressure(float64(huss[i]), float64(psurf[i])))
	}
	b.Vars[types.VarVP] = vp

	apply(b.Vars[types.VarRsds], RadiationMJ)
	apply(b.Vars[types.VarTasmax], Celsius)
	apply(b.Vars[types.VarTasmin], Celsius)
	apply(b.Vars[types.VarPr], RainMM)
	return nil
}

func apply(vals []float32, f func(float64) float64) {
	for i, v := range vals {
		vals[i] = float32(f(float64(v)))
	}
}
