package types

// Point is a 3D coordinate in drawing units.
type Point struct {
	X, Y, Z float64
}

// EntityKind identifies the concrete type of a drawing entity.
type EntityKind string

const (
	KindLine      EntityKind = "LINE"
	KindCircle    EntityKind = "CIRCLE"
	KindArc       EntityKind = "ARC"
	KindPolyline  EntityKind = "LWPOLYLINE"
	KindText      EntityKind = "TEXT"
	KindAttDef    EntityKind = "ATTDEF"
	KindInsert    EntityKind = "INSERT"
	KindAttribute EntityKind = "ATTRIB"
)

// Entity is a drawing entity owned by a block definition. Each concrete
// entity kind is a tagged variant with its own geometry fields.
type Entity interface {
	Kind() EntityKind
	EntityHandle() string
}

// Line is a straight segment between two points.
type Line struct {
	Handle string
	Layer  string
	Start  Point
	End    Point
}

func (l *Line) Kind() EntityKind     { return KindLine }
func (l *Line) EntityHandle() string { return l.Handle }

// Circle is a full circle defined by center and radius.
type Circle struct {
	Handle string
	Layer  string
	Center Point
	Radius float64
}

func (c *Circle) Kind() EntityKind     { return KindCircle }
func (c *Circle) EntityHandle() string { return c.Handle }

// Arc is a circular arc. Angles are in degrees as read from the source.
type Arc struct {
	Handle     string
	Layer      string
	Center     Point
	Radius     float64
	StartAngle float64
	EndAngle   float64
}

func (a *Arc) Kind() EntityKind     { return KindArc }
func (a *Arc) EntityHandle() string { return a.Handle }

// Polyline is a lightweight polyline: an ordered run of 2D vertices.
type Polyline struct {
	Handle   string
	Layer    string
	Vertices []Point
	Closed   bool
}

func (p *Polyline) Kind() EntityKind     { return KindPolyline }
func (p *Polyline) EntityHandle() string { return p.Handle }

// Text is a single-line text entity.
type Text struct {
	Handle   string
	Layer    string
	Value    string
	Position Point
	Height   float64
	Style    string
}

func (t *Text) Kind() EntityKind     { return KindText }
func (t *Text) EntityHandle() string { return t.Handle }
