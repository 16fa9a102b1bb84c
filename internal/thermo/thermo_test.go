package thermo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zeroCelsius = 273.15

func TestVoltsToKelvinReferencePoints(t *testing.T) {
	cases := []struct {
		typ     Type
		mv      float64
		celsius float64
	}{
		{TypeK, 4.096, 100},
		{TypeK, 41.276, 1000},
		{TypeK, -3.554, -100},
		{TypeJ, 5.269, 100},
		{TypeT, 4.279, 100},
		{TypeE, 6.319, 100},
	}

	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			k, err := VoltsToKelvin(tc.typ, tc.mv/1000, zeroCelsius)
			require.NoError(t, err)
			assert.InDelta(t, tc.celsius, k-zeroCelsius, 0.5)
		})
	}
}

func TestColdJunctionCompensation(t *testing.T) {
	// A junction at the cold-junction temperature produces no voltage.
	k, err := VoltsToKelvin(TypeK, 0, 299.039)
	require.NoError(t, err)
	assert.InDelta(t, 299.039, k, 0.1)

	cj, err := EMF(TypeK, 299.039-zeroCelsius)
	require.NoError(t, err)
	hot, err := EMF(TypeK, 100)
	require.NoError(t, err)

	k, err = VoltsToKelvin(TypeK, hot-cj, 299.039)
	require.NoError(t, err)
	assert.InDelta(t, 100, k-zeroCelsius, 0.2)
}

func TestUnsupportedAndUnknownTypes(t *testing.T) {
	_, err := VoltsToKelvin(TypeB, 0.001, zeroCelsius)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = VoltsToKelvin(Type("X"), 0.001, zeroCelsius)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = VoltsToKelvin(TypeK, 1.0, zeroCelsius)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" k ")
	require.NoError(t, err)
	assert.Equal(t, TypeK, typ)
	assert.True(t, typ.Supported())
	assert.Equal(t, 22, typ.Index())

	_, err = ParseType("Z")
	assert.ErrorIs(t, err, ErrUnknownType)
}
