package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/sift/core"
)

// Node is a parsed filter expression.
type Node interface {
	fmt.Stringer
	node()
}

// Literal is a value written in a filter.
type Literal struct {
	Raw    string
	Quoted bool
	Pos    int
}

// Number returns the literal as a number. Quoted literals are strings even
// when their text is numeric.
func (l Literal) Number() (float64, bool) {
	if l.Quoted {
		return 0, false
	}
	f, err := strconv.ParseFloat(l.Raw, 64)
	return f, err == nil
}

func (l Literal) String() string {
	if l.Quoted {
		return strconv.Quote(l.Raw)
	}
	return l.Raw
}

// RangeOp is the comparison of a Range node.
type RangeOp uint8

const (
	OpGreater RangeOp = iota
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBetween
)

func (op RangeOp) String() string {
	switch op {
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	default:
		return "TO"
	}
}

type (
	// Equal matches documents whose field holds Value.
	Equal struct {
		Field string
		Value Literal
	}

	// NotEqual matches documents whose field does not hold Value, including
	// documents without the field.
	NotEqual struct {
		Field string
		Value Literal
	}

	// Range compares a numeric field. Between uses Low and High inclusively;
	// the other operators use Low only.
	Range struct {
		Field string
		Op    RangeOp
		Low   Literal
		High  Literal
	}

	// In matches documents whose field holds any of Values.
	In struct {
		Field  string
		Values []Literal
	}

	// Exists matches documents holding any value in the field.
	Exists struct {
		Field string
	}

	And struct{ Children []Node }
	Or  struct{ Children []Node }
	Not struct{ Child Node }

	// GeoRadius matches documents within Meters of a point.
	GeoRadius struct {
		Center core.GeoPoint
		Meters float64
	}

	// GeoBoundingBox matches documents inside a box.
	GeoBoundingBox struct {
		TopLeft     core.GeoPoint
		BottomRight core.GeoPoint
	}
)

func (Equal) node()          {}
func (NotEqual) node()       {}
func (Range) node()          {}
func (In) node()             {}
func (Exists) node()         {}
func (And) node()            {}
func (Or) node()             {}
func (Not) node()            {}
func (GeoRadius) node()      {}
func (GeoBoundingBox) node() {}

func (n Equal) String() string    { return n.Field + " = " + n.Value.String() }
func (n NotEqual) String() string { return n.Field + " != " + n.Value.String() }
func (n Exists) String() string   { return n.Field + " EXISTS" }
func (n Not) String() string      { return "NOT " + n.Child.String() }

func (n Range) String() string {
	if n.Op == OpBetween {
		return n.Field + " " + n.Low.String() + " TO " + n.High.String()
	}
	return n.Field + " " + n.Op.String() + " " + n.Low.String()
}

func (n In) String() string {
	vals := make([]string, len(n.Values))
	for i, v := range n.Values {
		vals[i] = v.String()
	}
	return n.Field + " IN [" + strings.Join(vals, ", ") + "]"
}

func join(children []Node, op string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

func (n And) String() string { return join(n.Children, "AND") }
func (n Or) String() string  { return join(n.Children, "OR") }

func (n GeoRadius) String() string {
	return fmt.Sprintf("_geoRadius(%v, %v, %v)", n.Center.Lat, n.Center.Lng, n.Meters)
}

func (n GeoBoundingBox) String() string {
	return fmt.Sprintf("_geoBoundingBox([%v, %v], [%v, %v])",
		n.TopLeft.Lat, n.TopLeft.Lng, n.BottomRight.Lat, n.BottomRight.Lng)
}
