// Package dxf parses interchange-format drawing files into block tables.
//
// The format is a sequential tagged-value stream: each record pairs an
// integer group code with a value on the following line. The parser walks
// file sections (HEADER, TABLES, BLOCKS, ENTITIES) as a state machine,
// assembles block definitions with their entities and attribute
// definitions, and validates cross-references afterward. Unknown but
// well-formed tags are skipped; a broken code/value pairing aborts the
// file with a ParseError.
package dxf

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/northshore/blockindex/pkg/types"
)

// ParseError aborts parsing of a single file. Sibling files in the same
// run are unaffected.
type ParseError struct {
	File    string
	Line    int
	Message string
	Err     error // optional sentinel cause
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser parses interchange files into block tables.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// ParseFile opens and parses one interchange file.
func (p *Parser) ParseFile(path string) (*types.BlockTable, []types.Anomaly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening interchange file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return p.Parse(f, path)
}

// Parse reads the tagged stream and returns the block table plus any
// non-fatal anomalies found along the way.
func (p *Parser) Parse(r io.Reader, sourcePath string) (*types.BlockTable, []types.Anomaly, error) {
	ps := &parseState{
		tz:      newTokenizer(r),
		table:   types.NewBlockTable(sourcePath),
		source:  sourcePath,
		handles: make(map[string]bool),
	}

	if err := ps.run(); err != nil {
		return nil, nil, err
	}
	if err := ps.resolveReferences(); err != nil {
		return nil, nil, err
	}
	return ps.table, ps.anomalies, nil
}

// parseState carries the state machine through one file.
type parseState struct {
	tz        *tokenizer
	table     *types.BlockTable
	source    string
	handles   map[string]bool // block handles, for per-file uniqueness
	anomalies []types.Anomaly
}

func (ps *parseState) errf(line int, format string, args ...interface{}) error {
	return &ParseError{File: ps.source, Line: line, Message: fmt.Sprintf(format, args...)}
}

// run walks top-level sections until the EOF marker.
func (ps *parseState) run() error {
	for {
		tok, err := ps.tz.Next()
		if err == io.EOF {
			// A missing EOF marker is tolerated; the stream simply ended.
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}

		if tok.Code != 0 {
			continue
		}
		switch tok.Value {
		case "SECTION":
			if err := ps.section(); err != nil {
				return err
			}
		case "EOF":
			return nil
		}
	}
}

// section dispatches on the section name from the `2` tag that follows
// `0 SECTION`.
func (ps *parseState) section() error {
	name, err := ps.tz.Next()
	if err != nil {
		return &ParseError{File: ps.source, Message: fmt.Sprintf("unterminated section header: %v", err)}
	}
	if name.Code != 2 {
		return ps.errf(name.Line, "expected section name (group 2), got group %d", name.Code)
	}

	switch name.Value {
	case "HEADER":
		return ps.header()
	case "BLOCKS":
		return ps.blocks()
	case "ENTITIES":
		return ps.entities()
	default:
		return ps.skipSection()
	}
}

// skipSection consumes tokens until ENDSEC.
func (ps *parseState) skipSection() error {
	for {
		tok, err := ps.tz.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code == 0 && tok.Value == "ENDSEC" {
			return nil
		}
	}
}

// header extracts drawing settings. Only $INSUNITS matters here; other
// header variables are skipped.
func (ps *parseState) header() error {
	for {
		tok, err := ps.tz.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code == 0 && tok.Value == "ENDSEC" {
			return nil
		}
		if tok.Code == 9 && tok.Value == "$INSUNITS" {
			val, err := ps.tz.Next()
			if err != nil {
				return &ParseError{File: ps.source, Message: fmt.Sprintf("truncated $INSUNITS: %v", err)}
			}
			code, err := val.Int()
			if err != nil {
				return &ParseError{File: ps.source, Line: val.Line, Message: err.Error()}
			}
			ps.table.UnitsCode = code
		}
	}
}

// blocks parses the BLOCKS section: a run of BLOCK ... ENDBLK groups.
func (ps *parseState) blocks() error {
	for {
		tok, err := ps.tz.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code != 0 {
			continue
		}
		switch tok.Value {
		case "ENDSEC":
			return nil
		case "BLOCK":
			if err := ps.block(tok.Line); err != nil {
				return err
			}
		}
	}
}

// block parses one block definition through its ENDBLK.
func (ps *parseState) block(startLine int) error {
	b := &types.BlockDefinition{XData: make(map[string]string)}

	// Header tags up to the first entity or ENDBLK.
	if err := ps.blockHeader(b); err != nil {
		return err
	}

	// Entity records until ENDBLK.
	for {
		tok, err := ps.tz.Peek()
		if err == io.EOF {
			return ps.errf(startLine, "block %q is missing ENDBLK", b.Name)
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code != 0 {
			_, _ = ps.tz.Next()
			continue
		}
		if tok.Value == "ENDBLK" {
			_, _ = ps.tz.Next()
			break
		}
		if err := ps.blockEntity(b); err != nil {
			return err
		}
	}

	if b.Name == "" {
		return ps.errf(startLine, "block has no name")
	}
	if b.Handle != "" {
		if ps.handles[b.Handle] {
			return &ParseError{
				File:    ps.source,
				Line:    startLine,
				Message: fmt.Sprintf("duplicate block handle %q", b.Handle),
				Err:     types.ErrDuplicateHandle,
			}
		}
		ps.handles[b.Handle] = true
	}
	if err := ps.table.Add(b); err != nil {
		return ps.errf(startLine, "block %q: %v", b.Name, err)
	}
	return nil
}

// blockHeader consumes the BLOCK record's own tags. It stops at the first
// group 0 without consuming it.
func (ps *parseState) blockHeader(b *types.BlockDefinition) error {
	var xdataApp string
	var xdataKey string

	for {
		tok, err := ps.tz.Peek()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code == 0 {
			return nil
		}
		_, _ = ps.tz.Next()

		switch tok.Code {
		case 2, 3:
			b.Name = tok.Value
			b.Layout = strings.HasPrefix(tok.Value, "*")
		case 5:
			b.Handle = tok.Value
		case 8:
			b.Layer = tok.Value
		case 70:
			flags, err := tok.Int()
			if err != nil {
				return &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			b.Anonymous = flags&1 != 0
			b.Xref = flags&4 != 0
		case 10, 20, 30:
			v, err := tok.Float()
			if err != nil {
				return &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			setCoord(&b.BasePoint, tok.Code, v)
			b.Origin = b.BasePoint
		case 1001:
			xdataApp = tok.Value
			xdataKey = ""
		case 1000:
			// Extended data strings alternate key then value under an
			// application tag.
			if xdataApp == "" {
				ps.anomalies = append(ps.anomalies, types.Anomaly{
					Kind:   types.AnomalyUnknownXDataKey,
					File:   ps.source,
					Block:  b.Name,
					Detail: fmt.Sprintf("extended data %q outside an application group", tok.Value),
				})
				continue
			}
			if xdataKey == "" {
				xdataKey = tok.Value
			} else {
				b.XData[xdataKey] = tok.Value
				xdataKey = ""
			}
		}
	}
}

// setCoord maps the 10/20/30 group-code family onto point axes.
func setCoord(p *types.Point, code int, v float64) {
	switch code / 10 % 10 {
	case 1:
		p.X = v
	case 2:
		p.Y = v
	case 3:
		p.Z = v
	}
}

// blockEntity parses one entity record inside a block.
func (ps *parseState) blockEntity(b *types.BlockDefinition) error {
	head, _ := ps.tz.Next() // group 0, entity type

	switch head.Value {
	case "LINE", "CIRCLE", "ARC", "LWPOLYLINE", "TEXT":
		ent, err := ps.geometry(head)
		if err != nil {
			return err
		}
		b.Entities = append(b.Entities, ent)
	case "ATTDEF":
		def, err := ps.attDef()
		if err != nil {
			return err
		}
		if _, dup := b.AttDefByTag(def.Tag); dup {
			ps.anomalies = append(ps.anomalies, types.Anomaly{
				Kind:   types.AnomalyDuplicateAttributeTag,
				File:   ps.source,
				Block:  b.Name,
				Detail: fmt.Sprintf("duplicate attribute tag %q, keeping first", def.Tag),
				Handle: def.Handle,
			})
			return nil
		}
		b.AttDefs = append(b.AttDefs, *def)
	case "INSERT":
		ref, err := ps.insert(b.Name)
		if err != nil {
			return err
		}
		if ref != nil {
			b.Entities = append(b.Entities, ref)
		}
	default:
		// Unknown entity kinds are skipped; the format is expected to
		// grow new ones.
		return ps.skipEntity()
	}
	return nil
}

// skipEntity consumes tags until the next group 0.
func (ps *parseState) skipEntity() error {
	for {
		tok, err := ps.tz.Peek()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code == 0 {
			return nil
		}
		_, _ = ps.tz.Next()
	}
}

// entityTags collects an entity's tags into a flat map-like list, stopping
// at the next group 0. Repeating codes (polyline vertices) are preserved
// in order.
func (ps *parseState) entityTags() ([]Token, error) {
	var tags []Token
	for {
		tok, err := ps.tz.Peek()
		if err == io.EOF {
			return tags, nil
		}
		if err != nil {
			return nil, &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code == 0 {
			return tags, nil
		}
		_, _ = ps.tz.Next()
		tags = append(tags, tok)
	}
}

// geometry builds one of the plain geometry variants from its tags.
func (ps *parseState) geometry(head Token) (types.Entity, error) {
	tags, err := ps.entityTags()
	if err != nil {
		return nil, err
	}

	var handle, layer, textValue, style string
	var start, end, center, position types.Point
	var radius, startAngle, endAngle, height float64
	var vertices []types.Point
	closed := false

	var cur *types.Point // polyline vertex under construction
	for _, tok := range tags {
		switch tok.Code {
		case 5:
			handle = tok.Value
		case 8:
			layer = tok.Value
		case 1:
			textValue = tok.Value
		case 7:
			style = tok.Value
		case 70:
			if head.Value == "LWPOLYLINE" {
				flags, err := tok.Int()
				if err != nil {
					return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
				}
				closed = flags&1 != 0
			}
		case 10, 20, 30, 11, 21, 31, 40, 50, 51:
			v, err := tok.Float()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			switch tok.Code {
			case 10:
				if head.Value == "LWPOLYLINE" {
					vertices = append(vertices, types.Point{X: v})
					cur = &vertices[len(vertices)-1]
					continue
				}
				start.X, center.X, position.X = v, v, v
			case 20:
				if head.Value == "LWPOLYLINE" {
					if cur != nil {
						cur.Y = v
					}
					continue
				}
				start.Y, center.Y, position.Y = v, v, v
			case 30:
				start.Z, center.Z, position.Z = v, v, v
			case 11:
				end.X = v
			case 21:
				end.Y = v
			case 31:
				end.Z = v
			case 40:
				radius, height = v, v
			case 50:
				startAngle = v
			case 51:
				endAngle = v
			}
		}
	}

	switch head.Value {
	case "LINE":
		return &types.Line{Handle: handle, Layer: layer, Start: start, End: end}, nil
	case "CIRCLE":
		return &types.Circle{Handle: handle, Layer: layer, Center: center, Radius: radius}, nil
	case "ARC":
		return &types.Arc{Handle: handle, Layer: layer, Center: center, Radius: radius,
			StartAngle: startAngle, EndAngle: endAngle}, nil
	case "LWPOLYLINE":
		return &types.Polyline{Handle: handle, Layer: layer, Vertices: vertices, Closed: closed}, nil
	case "TEXT":
		return &types.Text{Handle: handle, Layer: layer, Value: textValue,
			Position: position, Height: height, Style: style}, nil
	}
	return nil, ps.errf(head.Line, "unhandled entity %q", head.Value)
}

// attDef builds an attribute definition from an ATTDEF record.
func (ps *parseState) attDef() (*types.AttributeDefinition, error) {
	tags, err := ps.entityTags()
	if err != nil {
		return nil, err
	}

	def := &types.AttributeDefinition{}
	for _, tok := range tags {
		switch tok.Code {
		case 5:
			def.Handle = tok.Value
		case 2:
			def.Tag = tok.Value
		case 3:
			def.Prompt = tok.Value
		case 1:
			def.Default = tok.Value
		case 7:
			def.Style = tok.Value
		case 70:
			flags, err := tok.Int()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			def.Invisible = flags&1 != 0
			def.Constant = flags&2 != 0
			def.Verify = flags&4 != 0
		case 10, 20, 30:
			v, err := tok.Float()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			setCoord(&def.Position, tok.Code, v)
		}
	}
	return def, nil
}

// insert builds a block reference from an INSERT record, consuming any
// trailing ATTRIB run through its SEQEND. A zero scale factor is reported
// as an anomaly and the insert is dropped; owner is the containing block
// name, empty for model space.
func (ps *parseState) insert(owner string) (*types.BlockReference, error) {
	tags, err := ps.entityTags()
	if err != nil {
		return nil, err
	}

	ref := &types.BlockReference{ScaleX: 1, ScaleY: 1, ScaleZ: 1}
	hasAttribs := false
	for _, tok := range tags {
		switch tok.Code {
		case 5:
			ref.Handle = tok.Value
		case 8:
			ref.Layer = tok.Value
		case 2:
			ref.BlockName = tok.Value
		case 66:
			flag, err := tok.Int()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			hasAttribs = flag != 0
		case 10, 20, 30, 41, 42, 43, 50:
			v, err := tok.Float()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			switch tok.Code {
			case 10, 20, 30:
				setCoord(&ref.Position, tok.Code, v)
			case 41:
				ref.ScaleX = v
			case 42:
				ref.ScaleY = v
			case 43:
				ref.ScaleZ = v
			case 50:
				// Group 50 carries degrees on the wire.
				ref.Rotation = types.NormalizeRotation(v * math.Pi / 180)
			}
		}
	}

	if hasAttribs {
		if err := ps.insertAttribs(ref); err != nil {
			return nil, err
		}
	}

	if err := ref.Validate(); err != nil {
		ps.anomalies = append(ps.anomalies, types.Anomaly{
			Kind:   types.AnomalyZeroScale,
			File:   ps.source,
			Block:  owner,
			Detail: fmt.Sprintf("insert of %q dropped: %v", ref.BlockName, err),
			Handle: ref.Handle,
		})
		return nil, nil
	}
	return ref, nil
}

// insertAttribs consumes ATTRIB records following an insert, through SEQEND.
func (ps *parseState) insertAttribs(ref *types.BlockReference) error {
	for {
		tok, err := ps.tz.Peek()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code != 0 {
			_, _ = ps.tz.Next()
			continue
		}
		switch tok.Value {
		case "SEQEND":
			_, _ = ps.tz.Next()
			_ = ps.skipEntity() // SEQEND's own tags
			return nil
		case "ATTRIB":
			_, _ = ps.tz.Next()
			attr, err := ps.attrib()
			if err != nil {
				return err
			}
			ref.Attribs = append(ref.Attribs, *attr)
		default:
			// The attrib run ended without SEQEND; leave the token for
			// the caller.
			return nil
		}
	}
}

// attrib builds an attribute reference from an ATTRIB record.
func (ps *parseState) attrib() (*types.AttributeReference, error) {
	tags, err := ps.entityTags()
	if err != nil {
		return nil, err
	}

	attr := &types.AttributeReference{}
	for _, tok := range tags {
		switch tok.Code {
		case 5:
			attr.Handle = tok.Value
		case 2:
			attr.Tag = tok.Value
		case 1:
			attr.Value = tok.Value
		case 7:
			attr.Style = tok.Value
		case 10, 20, 30:
			v, err := tok.Float()
			if err != nil {
				return nil, &ParseError{File: ps.source, Line: tok.Line, Message: err.Error()}
			}
			setCoord(&attr.Position, tok.Code, v)
		}
	}
	return attr, nil
}

// entities parses the ENTITIES section, keeping model-space inserts for
// reference validation and attribute anomaly checks.
func (ps *parseState) entities() error {
	for {
		tok, err := ps.tz.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ParseError{File: ps.source, Message: err.Error()}
		}
		if tok.Code != 0 {
			continue
		}
		switch tok.Value {
		case "ENDSEC":
			return nil
		case "INSERT":
			ref, err := ps.insert("")
			if err != nil {
				return err
			}
			if ref != nil {
				ps.table.Inserts = append(ps.table.Inserts, ref)
			}
		}
	}
}

// resolveReferences validates every insert after the whole file is read:
// a dangling target is a hard parse error, an attribute tag with no
// matching definition is an orphaned-attribute anomaly.
func (ps *parseState) resolveReferences() error {
	check := func(ref *types.BlockReference) error {
		target, ok := ps.table.Get(ref.BlockName)
		if !ok {
			return &ParseError{
				File:    ps.source,
				Message: fmt.Sprintf("insert %q references unknown block %q", ref.Handle, ref.BlockName),
				Err:     types.ErrDanglingReference,
			}
		}
		for _, attr := range ref.Attribs {
			if _, ok := target.AttDefByTag(attr.Tag); !ok {
				ps.anomalies = append(ps.anomalies, types.Anomaly{
					Kind:   types.AnomalyOrphanedAttribute,
					File:   ps.source,
					Block:  ref.BlockName,
					Detail: fmt.Sprintf("attribute %q has no matching definition", attr.Tag),
					Handle: attr.Handle,
				})
			}
		}
		return nil
	}

	for _, b := range ps.table.Blocks() {
		for _, ent := range b.Entities {
			if ref, ok := ent.(*types.BlockReference); ok {
				if err := check(ref); err != nil {
					return err
				}
			}
		}
	}
	for _, ref := range ps.table.Inserts {
		if err := check(ref); err != nil {
			return err
		}
	}
	return nil
}
