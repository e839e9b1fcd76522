package grpcbridge_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/grpcbridge"
)

func TestMapToStructRoundTrip(t *testing.T) {
	m := map[string]any{
		"name":    "agent",
		"count":   float64(3),
		"active":  true,
		"missing": nil,
		"tags":    []any{"a", "b"},
		"nested":  map[string]any{"k": "v"},
	}

	s, err := grpcbridge.MapToStruct(m)
	require.NoError(t, err)

	got := grpcbridge.StructToMap(s)
	assert.Equal(t, m, got)
}

func TestMapToStructNilMap(t *testing.T) {
	s, err := grpcbridge.MapToStruct(nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Nil(t, grpcbridge.StructToMap(nil))
}

func TestMapToStructRejectsNonFiniteFloats(t *testing.T) {
	_, err := grpcbridge.MapToStruct(map[string]any{"x": math.NaN()})
	assert.Error(t, err)

	_, err = grpcbridge.MapToStruct(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}
