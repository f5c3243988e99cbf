package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTableAdd(t *testing.T) {
	table := NewBlockTable("a.dwg")

	require.NoError(t, table.Add(&BlockDefinition{Name: "B"}))
	require.NoError(t, table.Add(&BlockDefinition{Name: "A"}))
	assert.Equal(t, 2, table.Len())

	assert.ErrorIs(t, table.Add(&BlockDefinition{Name: "A"}), ErrDuplicateBlockName)
	assert.ErrorIs(t, table.Add(&BlockDefinition{}), ErrEmptyBlockName)

	// First-appearance order, not lexical.
	blocks := table.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "B", blocks[0].Name)
	assert.Equal(t, "A", blocks[1].Name)
}

func TestBlockReferenceValidate(t *testing.T) {
	tests := []struct {
		name string
		ref  BlockReference
		want error
	}{
		{"valid", BlockReference{BlockName: "X", ScaleX: 1, ScaleY: 1, ScaleZ: 1}, nil},
		{"no name", BlockReference{ScaleX: 1, ScaleY: 1, ScaleZ: 1}, ErrMissingBlockName},
		{"zero x scale", BlockReference{BlockName: "X", ScaleY: 1, ScaleZ: 1}, ErrZeroScale},
		{"zero z scale", BlockReference{BlockName: "X", ScaleX: 1, ScaleY: 1}, ErrZeroScale},
		{"negative scale ok", BlockReference{BlockName: "X", ScaleX: -1, ScaleY: 1, ScaleZ: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestNormalizeRotation(t *testing.T) {
	assert.InDelta(t, 0, NormalizeRotation(0), 1e-12)
	assert.InDelta(t, math.Pi, NormalizeRotation(3*math.Pi), 1e-12)
	assert.InDelta(t, 3*math.Pi/2, NormalizeRotation(-math.Pi/2), 1e-12)
	assert.InDelta(t, 0, NormalizeRotation(2*math.Pi), 1e-12)
}

func TestAttDefByTag(t *testing.T) {
	b := &BlockDefinition{
		Name: "TB",
		AttDefs: []AttributeDefinition{
			{Tag: "ONE", Prompt: "first"},
			{Tag: "TWO"},
		},
	}

	def, ok := b.AttDefByTag("ONE")
	require.True(t, ok)
	assert.Equal(t, "first", def.Prompt)

	_, ok = b.AttDefByTag("THREE")
	assert.False(t, ok)
}

func TestUnitsFromCode(t *testing.T) {
	imperial := []int{0, 1, 2, 3, 8, 9, 10}
	for _, code := range imperial {
		assert.Equal(t, UnitsImperial, UnitsFromCode(code), "code %d", code)
	}
	for _, code := range []int{4, 5, 6, 7, 11, 12, 13, 14} {
		assert.Equal(t, UnitsMetric, UnitsFromCode(code), "code %d", code)
	}
}
