package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessscape/internal/types"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		raw     float64
		forward func(float64) float64
		inverse func(float64) float64
	}{
		{"radiation", 215.3, RadiationMJ, RadiationWm2},
		{"temperature", 288.41, Celsius, Kelvin},
		{"temperature below zero", 251.0, Celsius, Kelvin},
		{"rain", 3.2e-5, RainMM, RainFlux},
		{"rain zero", 0, RainMM, RainFlux},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.raw, tt.inverse(tt.forward(tt.raw)), 1e-9)
		})
	}

	vp := VapourPressure(0.0075, 101325)
	assert.InDelta(t, 0.0075, SpecificHumidity(vp, 101325), 1e-12)
}

func TestKnownValues(t *testing.T) {
	assert.InDelta(t, 8.64, RadiationMJ(100), 1e-12)
	assert.InDelta(t, 15.0, Celsius(288.15), 1e-12)
	assert.InDelta(t, 0.864, RainMM(1e-5), 1e-12)
	// 0.01 kg/kg at 100 kPa.
	assert.InDelta(t, 1.0/(0.622+0.00378), VapourPressure(0.01, 100000), 1e-12)
}

func testBlock() *types.Block {
	b := types.NewBlock(types.CalendarGregorian, []types.Date{{Year: 2001, Month: 1, Day: 1}, {Year: 2001, Month: 1, Day: 2}}, []float64{0}, []float64{0})
	b.Vars[types.VarRsds] = []float32{100, 200}
	b.Vars[types.VarTasmax] = []float32{290, 291}
	b.Vars[types.VarTasmin] = []float32{280, 281}
	b.Vars[types.VarHuss] = []float32{0.01, 0.005}
	b.Vars[types.VarPsurf] = []float32{100000, 98000}
	b.Vars[types.VarPr] = []float32{1e-5, 0}
	b.Vars[types.VarSfcWind] = []float32{4.5, 3}
	return b
}

func TestConvert(t *testing.T) {
	b := testBlock()
	require.NoError(t, Convert(b))

	assert.InDelta(t, 8.64, b.Vars[types.VarRsds][0], 1e-5)
	assert.InDelta(t, 16.85, b.Vars[types.VarTasmax][0], 1e-4)
	assert.InDelta(t, 6.85, b.Vars[types.VarTasmin][0], 1e-4)
	assert.InDelta(t, 0.864, b.Vars[types.VarPr][0], 1e-6)
	assert.Equal(t, []float32{4.5, 3}, b.Vars[types.VarSfcWind])

	// vp uses the raw values, which Convert leaves in place.
	require.Len(t, b.Vars[types.VarVP], 2)
	assert.InDelta(t, VapourPressure(0.005, 98000), b.Vars[types.VarVP][1], 1e-6)
	assert.Equal(t, float32(100000), b.Vars[types.VarPsurf][0])
	assert.Equal(t, float32(0.01), b.Vars[types.VarHuss][0])
}

func TestConvertRoundTripOnBlock(t *testing.T) {
	b := testBlock()
	raw := testBlock()
	require.NoError(t, Convert(b))

	for i, v := range b.Vars[types.VarTasmax] {
		assert.InDelta(t, raw.Vars[types.VarTasmax][i], Kelvin(float64(v)), 1e-4)
	}
	for i, v := range b.Vars[types.VarRsds] {
		assert.InDelta(t, raw.Vars[types.VarRsds][i], RadiationWm2(float64(v)), 1e-3)
	}
}

func TestConvertMissingVariable(t *testing.T) {
	b := testBlock()
	delete(b.Vars, types.VarHuss)
	err := Convert(b)
	require.Error(t, err)
	assert.True(t, types.IsSchemaMismatch(err))
	assert.NotContains(t, b.Vars, types.VarVP)
}
