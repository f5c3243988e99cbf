// Package collector derives block metadata records from parsed block tables:
// basic properties, bounding extents, attribute inventories, and extended
// data surfaced through a fixed key lookup.
package collector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/northshore/blockindex/internal/metrics"
	"github.com/northshore/blockindex/pkg/types"
)

// Extended-data keys surfaced onto records. Absent keys yield empty
// strings, never errors.
const (
	xdataDescription = "DESCRIPTION"
	xdataAuthor      = "AUTHOR"
	xdataCategory    = "CATEGORY"
)

// Collector computes one BlockMetadataRecord per block definition.
type Collector struct {
	maxDepth int
}

// New creates a Collector. maxDepth bounds recursion through nested block
// references during extent computation.
func New(maxDepth int) *Collector {
	return &Collector{maxDepth: maxDepth}
}

// Result carries the collected records and any anomalies found while
// deriving them.
type Result struct {
	Records   []*types.BlockMetadataRecord
	Anomalies []types.Anomaly
}

// Collect walks the block table in first-appearance order. Layout blocks
// (model/paper space) are excluded from the output. A failure deriving one
// block's extents downgrades that block to a partial record; it never
// aborts the siblings. A table with no blocks yields an empty, non-nil
// record slice.
func (c *Collector) Collect(table *types.BlockTable, sourceModTime time.Time) *Result {
	res := &Result{Records: make([]*types.BlockMetadataRecord, 0, table.Len())}
	units := types.UnitsFromCode(table.UnitsCode)

	for _, b := range table.Blocks() {
		if b.Layout {
			continue
		}

		rec := &types.BlockMetadataRecord{
			SourceFile:   table.SourcePath,
			Handle:       b.Handle,
			Name:         b.Name,
			Description:  b.XData[xdataDescription],
			Layer:        b.Layer,
			Author:       b.XData[xdataAuthor],
			Category:     b.XData[xdataCategory],
			Units:        units,
			LastModified: sourceModTime,
		}

		rec.AttributeNames = make([]string, 0, len(b.AttDefs))
		for _, def := range b.AttDefs {
			rec.AttributeNames = append(rec.AttributeNames, def.Tag)
		}
		rec.HasAttributes = len(rec.AttributeNames) > 0
		rec.EntityTypes = entityTypes(b)
		rec.EntityCount = len(b.Entities)

		box, err := c.extents(table, b)
		if err != nil {
			rec.Partial = true
			res.Anomalies = append(res.Anomalies, types.Anomaly{
				Kind:   anomalyKindFor(err),
				File:   table.SourcePath,
				Block:  b.Name,
				Detail: err.Error(),
			})
		} else if box.valid() {
			rec.Width = box.maxX - box.minX
			rec.Height = box.maxY - box.minY
		}

		res.Records = append(res.Records, rec)
		metrics.BlocksExtracted.Inc()
	}

	for _, a := range res.Anomalies {
		metrics.AnomaliesTotal.WithLabelValues(string(a.Kind)).Inc()
	}
	return res
}

// cycleError marks an extent failure caused by self- or mutually-
// referencing blocks.
type cycleError struct{ chain string }

func (e *cycleError) Error() string {
	return fmt.Sprintf("block reference cycle: %s", e.chain)
}

// depthError marks nesting beyond the configured recursion bound.
type depthError struct{ depth int }

func (e *depthError) Error() string {
	return fmt.Sprintf("nested block references exceed depth limit %d", e.depth)
}

func anomalyKindFor(err error) types.AnomalyKind {
	switch err.(type) {
	case *cycleError:
		return types.AnomalyReferenceCycle
	case *depthError:
		return types.AnomalyDepthExceeded
	default:
		return types.AnomalyDepthExceeded
	}
}

// box is an axis-aligned bounding box accumulator.
type box struct {
	minX, minY, maxX, maxY float64
	empty                  bool
}

func newBox() box {
	return box{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
		empty: true,
	}
}

func (b *box) add(x, y float64) {
	b.empty = false
	b.minX = math.Min(b.minX, x)
	b.minY = math.Min(b.minY, y)
	b.maxX = math.Max(b.maxX, x)
	b.maxY = math.Max(b.maxY, y)
}

func (b *box) valid() bool { return !b.empty }

// extents computes the bounding box of a block in its local coordinate
// system, recursing into nested block references with a visited set so a
// cyclic definition is detected rather than recursed into forever.
func (c *Collector) extents(table *types.BlockTable, b *types.BlockDefinition) (box, error) {
	visiting := map[string]bool{b.Name: true}
	return c.blockBox(table, b, visiting, 0)
}

func (c *Collector) blockBox(table *types.BlockTable, b *types.BlockDefinition,
	visiting map[string]bool, depth int) (box, error) {

	if depth > c.maxDepth {
		return box{}, &depthError{depth: c.maxDepth}
	}

	bb := newBox()
	for i := range b.AttDefs {
		bb.add(b.AttDefs[i].Position.X, b.AttDefs[i].Position.Y)
	}
	for _, ent := range b.Entities {
		switch e := ent.(type) {
		case *types.Line:
			bb.add(e.Start.X, e.Start.Y)
			bb.add(e.End.X, e.End.Y)
		case *types.Circle:
			bb.add(e.Center.X-e.Radius, e.Center.Y-e.Radius)
			bb.add(e.Center.X+e.Radius, e.Center.Y+e.Radius)
		case *types.Arc:
			bb.add(e.Center.X-e.Radius, e.Center.Y-e.Radius)
			bb.add(e.Center.X+e.Radius, e.Center.Y+e.Radius)
		case *types.Polyline:
			for _, v := range e.Vertices {
				bb.add(v.X, v.Y)
			}
		case *types.Text:
			bb.add(e.Position.X, e.Position.Y)
		case *types.BlockReference:
			child, err := c.referenceBox(table, e, visiting, depth)
			if err != nil {
				return box{}, err
			}
			if child.valid() {
				bb.add(child.minX, child.minY)
				bb.add(child.maxX, child.maxY)
			}
		}
	}
	return bb, nil
}

// referenceBox resolves a nested insert's contribution: the child block's
// box transformed by the insert's scale, rotation, and position.
func (c *Collector) referenceBox(table *types.BlockTable, ref *types.BlockReference,
	visiting map[string]bool, depth int) (box, error) {

	if visiting[ref.BlockName] {
		return box{}, &cycleError{chain: ref.BlockName}
	}
	child, ok := table.Get(ref.BlockName)
	if !ok {
		// Dangling references are rejected at parse time; reaching one
		// here means the table was assembled by hand. Contribute nothing.
		return newBox(), nil
	}

	visiting[ref.BlockName] = true
	childBox, err := c.blockBox(table, child, visiting, depth+1)
	delete(visiting, ref.BlockName)
	if err != nil {
		return box{}, err
	}
	if !childBox.valid() {
		return childBox, nil
	}

	// Transform the four corners and re-wrap them axis-aligned.
	sin, cos := math.Sincos(ref.Rotation)
	out := newBox()
	corners := [4][2]float64{
		{childBox.minX, childBox.minY},
		{childBox.minX, childBox.maxY},
		{childBox.maxX, childBox.minY},
		{childBox.maxX, childBox.maxY},
	}
	for _, corner := range corners {
		x := corner[0] * ref.ScaleX
		y := corner[1] * ref.ScaleY
		rx := x*cos - y*sin
		ry := x*sin + y*cos
		out.add(rx+ref.Position.X, ry+ref.Position.Y)
	}
	return out, nil
}

// entityTypes returns the sorted unique entity kinds in a block, the same
// inventory the exporter publishes alongside each record.
func entityTypes(b *types.BlockDefinition) []string {
	seen := make(map[string]bool)
	for _, ent := range b.Entities {
		seen[string(ent.Kind())] = true
	}
	if len(b.AttDefs) > 0 {
		seen[string(types.KindAttDef)] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
