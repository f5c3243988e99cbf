package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northshore/blockindex/pkg/types"
)

var testModTime = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTable(t *testing.T, blocks ...*types.BlockDefinition) *types.BlockTable {
	t.Helper()
	table := types.NewBlockTable("drawings/test.dwg")
	for _, b := range blocks {
		require.NoError(t, table.Add(b))
	}
	return table
}

func TestCollectBasicProperties(t *testing.T) {
	table := newTable(t, &types.BlockDefinition{
		Name:   "Pump",
		Handle: "B1",
		Layer:  "EQUIPMENT",
		XData: map[string]string{
			"DESCRIPTION": "Centrifugal pump",
			"AUTHOR":      "jdoe",
			"CATEGORY":    "mechanical",
		},
		Entities: []types.Entity{
			&types.Line{Handle: "E1", End: types.Point{X: 10, Y: 4}},
		},
	})
	table.UnitsCode = 4 // millimeters

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Anomalies)

	rec := res.Records[0]
	assert.Equal(t, "Pump", rec.Name)
	assert.Equal(t, "drawings/test.dwg", rec.SourceFile)
	assert.Equal(t, "B1", rec.Handle)
	assert.Equal(t, "EQUIPMENT", rec.Layer)
	assert.Equal(t, "Centrifugal pump", rec.Description)
	assert.Equal(t, "jdoe", rec.Author)
	assert.Equal(t, "mechanical", rec.Category)
	assert.Equal(t, types.UnitsMetric, rec.Units)
	assert.Equal(t, testModTime, rec.LastModified)
	assert.False(t, rec.Partial)
}

func TestCollectExtents(t *testing.T) {
	table := newTable(t, &types.BlockDefinition{
		Name: "Shape",
		Entities: []types.Entity{
			&types.Line{Start: types.Point{X: 0, Y: 0}, End: types.Point{X: 10.5, Y: 5.2}},
			&types.Circle{Center: types.Point{X: 5, Y: 2}, Radius: 1.5},
		},
	})

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.InDelta(t, 10.5, rec.Width, 1e-9)
	assert.InDelta(t, 5.2, rec.Height, 1e-9)
	assert.Equal(t, 2, rec.EntityCount)
	assert.Equal(t, []string{"CIRCLE", "LINE"}, rec.EntityTypes)
}

func TestCollectAttributeInventory(t *testing.T) {
	table := newTable(t, &types.BlockDefinition{
		Name: "TitleBlock",
		AttDefs: []types.AttributeDefinition{
			{Tag: "PROJECT"},
			{Tag: "DRAWN_BY"},
			{Tag: "DATE"},
		},
	})

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.True(t, rec.HasAttributes)
	// Definition order is preserved, not sorted.
	assert.Equal(t, []string{"PROJECT", "DRAWN_BY", "DATE"}, rec.AttributeNames)
	// Attribute definitions count toward the type inventory but not the
	// entity count.
	assert.Equal(t, 0, rec.EntityCount)
	assert.Equal(t, []string{"ATTDEF"}, rec.EntityTypes)
}

func TestCollectMissingXDataYieldsEmptyFields(t *testing.T) {
	table := newTable(t, &types.BlockDefinition{Name: "Bare"})

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Empty(t, rec.Description)
	assert.Empty(t, rec.Author)
	assert.Empty(t, rec.Category)
	assert.False(t, rec.HasAttributes)
	assert.Zero(t, rec.Width)
	assert.Zero(t, rec.Height)
}

func TestCollectEmptyTable(t *testing.T) {
	table := newTable(t)

	res := New(8).Collect(table, testModTime)
	require.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Anomalies)
}

func TestCollectSkipsLayoutBlocks(t *testing.T) {
	table := newTable(t,
		&types.BlockDefinition{Name: "*Model_Space", Layout: true},
		&types.BlockDefinition{Name: "*Paper_Space", Layout: true},
		&types.BlockDefinition{Name: "Real"},
	)

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Real", res.Records[0].Name)
}

func TestCollectNestedReferenceExtents(t *testing.T) {
	table := newTable(t,
		&types.BlockDefinition{
			Name: "Unit",
			Entities: []types.Entity{
				&types.Line{Start: types.Point{X: 0, Y: 0}, End: types.Point{X: 1, Y: 1}},
			},
		},
		&types.BlockDefinition{
			Name: "Pair",
			Entities: []types.Entity{
				&types.BlockReference{BlockName: "Unit", ScaleX: 2, ScaleY: 2, ScaleZ: 1},
				&types.BlockReference{BlockName: "Unit", ScaleX: 1, ScaleY: 1, ScaleZ: 1,
					Position: types.Point{X: 10, Y: 0}},
			},
		},
	)

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 2)
	assert.Empty(t, res.Anomalies)

	pair, ok := findRecord(res, "Pair")
	require.True(t, ok)
	// Scaled copy spans [0,2], translated copy spans [10,11].
	assert.InDelta(t, 11.0, pair.Width, 1e-9)
	assert.InDelta(t, 2.0, pair.Height, 1e-9)
	assert.Equal(t, []string{"INSERT"}, pair.EntityTypes)
}

func TestCollectSelfReferenceCycle(t *testing.T) {
	table := newTable(t, &types.BlockDefinition{
		Name: "Ouroboros",
		Entities: []types.Entity{
			&types.BlockReference{BlockName: "Ouroboros", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
		},
	})

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.True(t, rec.Partial)
	assert.Zero(t, rec.Width)
	assert.Zero(t, rec.Height)

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, types.AnomalyReferenceCycle, res.Anomalies[0].Kind)
	assert.Equal(t, "Ouroboros", res.Anomalies[0].Block)
}

func TestCollectMutualReferenceCycle(t *testing.T) {
	table := newTable(t,
		&types.BlockDefinition{
			Name: "A",
			Entities: []types.Entity{
				&types.BlockReference{BlockName: "B", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
			},
		},
		&types.BlockDefinition{
			Name: "B",
			Entities: []types.Entity{
				&types.BlockReference{BlockName: "A", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
			},
		},
	)

	res := New(8).Collect(table, testModTime)
	require.Len(t, res.Records, 2)
	require.Len(t, res.Anomalies, 2)
	for _, rec := range res.Records {
		assert.True(t, rec.Partial, "block %s", rec.Name)
	}
	for _, a := range res.Anomalies {
		assert.Equal(t, types.AnomalyReferenceCycle, a.Kind)
	}
}

func TestCollectDepthLimit(t *testing.T) {
	// L0 -> L1 -> L2 -> L3, with a depth limit of 2.
	table := newTable(t,
		&types.BlockDefinition{Name: "L3", Entities: []types.Entity{
			&types.Line{End: types.Point{X: 1, Y: 1}},
		}},
		&types.BlockDefinition{Name: "L2", Entities: []types.Entity{
			&types.BlockReference{BlockName: "L3", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
		}},
		&types.BlockDefinition{Name: "L1", Entities: []types.Entity{
			&types.BlockReference{BlockName: "L2", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
		}},
		&types.BlockDefinition{Name: "L0", Entities: []types.Entity{
			&types.BlockReference{BlockName: "L1", ScaleX: 1, ScaleY: 1, ScaleZ: 1},
		}},
	)

	res := New(2).Collect(table, testModTime)

	l0, ok := findRecord(res, "L0")
	require.True(t, ok)
	assert.True(t, l0.Partial)

	l1, ok := findRecord(res, "L1")
	require.True(t, ok)
	assert.False(t, l1.Partial)

	depthAnomalies := 0
	for _, a := range res.Anomalies {
		if a.Kind == types.AnomalyDepthExceeded {
			depthAnomalies++
		}
	}
	assert.Equal(t, 1, depthAnomalies)
}

func TestCollectRotatedReference(t *testing.T) {
	table := newTable(t,
		&types.BlockDefinition{
			Name: "Bar",
			Entities: []types.Entity{
				&types.Line{Start: types.Point{X: 0, Y: 0}, End: types.Point{X: 4, Y: 0}},
			},
		},
		&types.BlockDefinition{
			Name: "Rotated",
			Entities: []types.Entity{
				&types.BlockReference{BlockName: "Bar", ScaleX: 1, ScaleY: 1, ScaleZ: 1,
					Rotation: types.NormalizeRotation(1.5707963267948966)}, // 90 degrees
			},
		},
	)

	res := New(8).Collect(table, testModTime)
	rec, ok := findRecord(res, "Rotated")
	require.True(t, ok)
	assert.InDelta(t, 0.0, rec.Width, 1e-9)
	assert.InDelta(t, 4.0, rec.Height, 1e-9)
}

func findRecord(res *Result, name string) (*types.BlockMetadataRecord, bool) {
	for _, rec := range res.Records {
		if rec.Name == name {
			return rec, true
		}
	}
	return nil, false
}
