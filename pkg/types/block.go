package types

import "math"

// AttributeDefinition is an ATTDEF owned by exactly one block definition.
// The tag is unique within its owning block.
type AttributeDefinition struct {
	Handle   string
	Tag      string
	Prompt   string
	Default  string
	Position Point
	Style    string

	// Behavior flags
	Constant  bool
	Invisible bool
	Verify    bool
}

// AttributeReference is an ATTRIB carried by a block reference. Its tag is
// expected to match an AttributeDefinition on the referenced block; a
// mismatch is an orphaned-attribute anomaly, not an error.
type AttributeReference struct {
	Handle   string
	Tag      string
	Value    string
	Position Point
	Style    string
}

// BlockReference is an insert of a block definition into a drawing at a
// position, rotation, and non-uniform scale.
type BlockReference struct {
	Handle    string
	Layer     string
	BlockName string // Name of the referenced block definition
	Position  Point
	Rotation  float64 // Radians, normalized to [0, 2*pi)
	ScaleX    float64
	ScaleY    float64
	ScaleZ    float64
	Attribs   []AttributeReference
}

func (r *BlockReference) Kind() EntityKind     { return KindInsert }
func (r *BlockReference) EntityHandle() string { return r.Handle }

// Validate checks the reference invariants: a nonzero scale on every axis
// and a non-empty target block name.
func (r *BlockReference) Validate() error {
	if r.BlockName == "" {
		return ErrMissingBlockName
	}
	if r.ScaleX == 0 || r.ScaleY == 0 || r.ScaleZ == 0 {
		return ErrZeroScale
	}
	return nil
}

// NormalizeRotation maps an angle in radians onto [0, 2*pi).
func NormalizeRotation(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r
}

// BlockDefinition is a named, reusable collection of entities parsed from
// one interchange file. The handle is the natural key and is unique within
// the source file; the name is unique as well.
type BlockDefinition struct {
	Name      string
	Handle    string
	Layer     string
	Origin    Point
	BasePoint Point

	Anonymous bool // Name begins with "*U" or anonymous flag set
	Layout    bool // Model/paper space block, name begins with "*"
	Xref      bool // Externally referenced drawing

	// Entities in file order. Attribute definitions are kept separately
	// from geometry so the inventory stays ordered and addressable by tag.
	Entities []Entity
	AttDefs  []AttributeDefinition

	// Extended data attached to the block record, keyed by application tag.
	XData map[string]string
}

// AttDefByTag returns the attribute definition with the given tag, if any.
func (b *BlockDefinition) AttDefByTag(tag string) (*AttributeDefinition, bool) {
	for i := range b.AttDefs {
		if b.AttDefs[i].Tag == tag {
			return &b.AttDefs[i], true
		}
	}
	return nil, false
}

// BlockTable is the parsed representation of one interchange file: every
// block definition it contains plus drawing-level settings, preserving the
// order in which blocks first appeared.
type BlockTable struct {
	SourcePath string
	UnitsCode  int // Raw $INSUNITS header value

	// Inserts are model-space block references (placements outside any
	// block definition).
	Inserts []*BlockReference

	blocks map[string]*BlockDefinition // keyed by name
	order  []string
}

// NewBlockTable creates an empty block table for the given source file.
func NewBlockTable(sourcePath string) *BlockTable {
	return &BlockTable{
		SourcePath: sourcePath,
		blocks:     make(map[string]*BlockDefinition),
	}
}

// Add inserts a block definition, enforcing per-file name uniqueness.
func (t *BlockTable) Add(b *BlockDefinition) error {
	if b.Name == "" {
		return ErrEmptyBlockName
	}
	if _, exists := t.blocks[b.Name]; exists {
		return ErrDuplicateBlockName
	}
	t.blocks[b.Name] = b
	t.order = append(t.order, b.Name)
	return nil
}

// Get returns the block definition with the given name.
func (t *BlockTable) Get(name string) (*BlockDefinition, bool) {
	b, ok := t.blocks[name]
	return b, ok
}

// Blocks returns all definitions in first-appearance order.
func (t *BlockTable) Blocks() []*BlockDefinition {
	out := make([]*BlockDefinition, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.blocks[name])
	}
	return out
}

// Len returns the number of block definitions in the table.
func (t *BlockTable) Len() int { return len(t.order) }
