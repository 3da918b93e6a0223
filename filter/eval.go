package filter

import (
	"context"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
	"github.com/poiesic/sift/geo"
	"github.com/poiesic/sift/storage"
)

// DefaultMaxDepth is the default bound on evaluated nesting.
const DefaultMaxDepth = 32

// Source reads the facet databases. storage.Snapshot satisfies it.
type Source interface {
	DocumentIDs() (*roaring.Bitmap, error)
	FacetEqual(field core.FieldID, v facet.Value) (*roaring.Bitmap, error)
	FacetRange(field core.FieldID, rg storage.Range) (*roaring.Bitmap, error)
	FacetScan(field core.FieldID, typ facet.Type, descending bool, fn func(facet.Value, *roaring.Bitmap) (bool, error)) error
}

// Evaluator turns filter expressions into document sets against one
// snapshot.
type Evaluator struct {
	src      Source
	fields   *core.FieldMap
	settings *core.Settings
	geo      *geo.Index
	maxDepth int
	all      *roaring.Bitmap
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) EvaluatorOption {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithGeoIndex supplies the index used by geo predicates. Without one geo
// predicates match nothing.
func WithGeoIndex(ix *geo.Index) EvaluatorOption {
	return func(e *Evaluator) {
		e.geo = ix
	}
}

// NewEvaluator creates an evaluator. Fields must be the field map of the
// same snapshot as src.
func NewEvaluator(src Source, fields *core.FieldMap, settings *core.Settings, opts ...EvaluatorOption) (*Evaluator, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if fields == nil {
		fields = core.NewFieldMap()
	}
	if settings == nil {
		settings = core.DefaultSettings()
	}
	e := &Evaluator{src: src, fields: fields, settings: settings, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate returns the documents matching node. Every predicate is checked
// before any is evaluated, so a malformed operand fails the whole filter
// whatever its position.
func (e *Evaluator) Evaluate(ctx context.Context, node Node) (*roaring.Bitmap, error) {
	if err := e.validate(node, 1); err != nil {
		return nil, err
	}
	return e.eval(ctx, node, 1)
}

func (e *Evaluator) validate(node Node, depth int) error {
	if depth > e.maxDepth {
		return fmt.Errorf("%w: %w: limit is %d", core.ErrValidation, ErrTooDeep, e.maxDepth)
	}
	switch n := node.(type) {
	case And:
		return e.validateAll(n.Children, depth)
	case Or:
		return e.validateAll(n.Children, depth)
	case Not:
		return e.validate(n.Child, depth+1)
	case Equal:
		_, err := e.field(n.Field)
		return err
	case NotEqual:
		_, err := e.field(n.Field)
		return err
	case In:
		_, err := e.field(n.Field)
		return err
	case Range:
		if _, err := e.field(n.Field); err != nil {
			return err
		}
		_, err := rangeBounds(n)
		return err
	case Exists:
		if n.Field == core.GeoField {
			return e.requireGeo()
		}
		_, err := e.field(n.Field)
		return err
	case GeoRadius:
		if err := e.requireGeo(); err != nil {
			return err
		}
		if !n.Center.Valid() {
			return fmt.Errorf("%w: %w: (%v, %v)", core.ErrValidation, geo.ErrInvalidPoint, n.Center.Lat, n.Center.Lng)
		}
		if n.Meters < 0 || math.IsNaN(n.Meters) {
			return fmt.Errorf("%w: %w: radius %v", core.ErrValidation, geo.ErrInvalidRadius, n.Meters)
		}
		return nil
	case GeoBoundingBox:
		if err := e.requireGeo(); err != nil {
			return err
		}
		if !n.TopLeft.Valid() || !n.BottomRight.Valid() || n.TopLeft.Lat < n.BottomRight.Lat {
			return fmt.Errorf("%w: %w: bounding box (%v, %v) (%v, %v)", core.ErrValidation, geo.ErrInvalidPoint,
				n.TopLeft.Lat, n.TopLeft.Lng, n.BottomRight.Lat, n.BottomRight.Lng)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported filter node %T", core.ErrValidation, node)
	}
}

func (e *Evaluator) validateAll(children []Node, depth int) error {
	for _, child := range children {
		if err := e.validate(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) universe() (*roaring.Bitmap, error) {
	if e.all == nil {
		all, err := e.src.DocumentIDs()
		if err != nil {
			return nil, err
		}
		e.all = all
	}
	return e.all, nil
}

func (e *Evaluator) eval(ctx context.Context, node Node, depth int) (*roaring.Bitmap, error) {
	if depth > e.maxDepth {
		return nil, fmt.Errorf("%w: %w: limit is %d", core.ErrValidation, ErrTooDeep, e.maxDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case And:
		parts := make([]*roaring.Bitmap, 0, len(n.Children))
		for _, child := range n.Children {
			bm, err := e.eval(ctx, child, depth+1)
			if err != nil {
				return nil, err
			}
			if bm.IsEmpty() {
				return bitmap.New(), nil
			}
			parts = append(parts, bm)
		}
		return bitmap.Intersect(parts...), nil
	case Or:
		parts := make([]*roaring.Bitmap, 0, len(n.Children))
		for _, child := range n.Children {
			bm, err := e.eval(ctx, child, depth+1)
			if err != nil {
				return nil, err
			}
			parts = append(parts, bm)
		}
		return bitmap.Union(parts...), nil
	case Not:
		bm, err := e.eval(ctx, n.Child, depth+1)
		if err != nil {
			return nil, err
		}
		return e.complement(bm)
	case Equal:
		return e.equal(n.Field, n.Value)
	case NotEqual:
		bm, err := e.equal(n.Field, n.Value)
		if err != nil {
			return nil, err
		}
		return e.complement(bm)
	case In:
		if _, err := e.field(n.Field); err != nil {
			return nil, err
		}
		parts := make([]*roaring.Bitmap, 0, len(n.Values))
		for _, v := range n.Values {
			bm, err := e.equal(n.Field, v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, bm)
		}
		return bitmap.Union(parts...), nil
	case Range:
		return e.rangeOf(n)
	case Exists:
		return e.exists(n.Field)
	case GeoRadius:
		if err := e.requireGeo(); err != nil || e.geo == nil {
			return bitmap.New(), err
		}
		return e.geo.Radius(n.Center, n.Meters)
	case GeoBoundingBox:
		if err := e.requireGeo(); err != nil || e.geo == nil {
			return bitmap.New(), err
		}
		return e.geo.BoundingBox(n.TopLeft, n.BottomRight)
	default:
		return nil, fmt.Errorf("%w: unsupported filter node %T", core.ErrValidation, node)
	}
}

func (e *Evaluator) complement(bm *roaring.Bitmap) (*roaring.Bitmap, error) {
	all, err := e.universe()
	if err != nil {
		return nil, err
	}
	return bitmap.Difference(all, bm), nil
}

// field resolves a filterable field. A filterable field that no document
// has used yet resolves to ok == false.
func (e *Evaluator) field(name string) (fieldRef, error) {
	if !e.settings.IsFilterable(name) {
		return fieldRef{}, fmt.Errorf("%w: %w: %q is not filterable", core.ErrValidation, core.ErrUnknownField, name)
	}
	id, ok := e.fields.ID(name)
	return fieldRef{id: id, ok: ok}, nil
}

type fieldRef struct {
	id core.FieldID
	ok bool
}

func (e *Evaluator) equal(name string, v Literal) (*roaring.Bitmap, error) {
	f, err := e.field(name)
	if err != nil || !f.ok {
		return bitmap.New(), err
	}
	str, err := e.src.FacetEqual(f.id, facet.String(v.Raw))
	if err != nil {
		return nil, err
	}
	num, ok := v.Number()
	if !ok {
		return str, nil
	}
	numeric, err := e.src.FacetEqual(f.id, facet.Number(num))
	if err != nil {
		return nil, err
	}
	return bitmap.Union(str, numeric), nil
}

func (e *Evaluator) rangeOf(n Range) (*roaring.Bitmap, error) {
	f, err := e.field(n.Field)
	if err != nil {
		return nil, err
	}
	rg, err := rangeBounds(n)
	if err != nil {
		return nil, err
	}
	if !f.ok {
		return bitmap.New(), nil
	}
	return e.src.FacetRange(f.id, rg)
}

// rangeBounds converts a range predicate to storage bounds. Both bounds
// must be numbers.
func rangeBounds(n Range) (storage.Range, error) {
	low, ok := n.Low.Number()
	if !ok || math.IsNaN(low) {
		return storage.Range{}, fmt.Errorf("%w: %w: %s: %s is not a number", core.ErrValidation, core.ErrTypeMismatch, n.Field, n.Low)
	}
	switch n.Op {
	case OpGreater:
		return storage.Range{Low: &low, LowExclusive: true}, nil
	case OpGreaterEqual:
		return storage.Range{Low: &low}, nil
	case OpLess:
		return storage.Range{High: &low, HighExclusive: true}, nil
	case OpLessEqual:
		return storage.Range{High: &low}, nil
	case OpBetween:
		high, ok := n.High.Number()
		if !ok || math.IsNaN(high) {
			return storage.Range{}, fmt.Errorf("%w: %w: %s: %s is not a number", core.ErrValidation, core.ErrTypeMismatch, n.Field, n.High)
		}
		return storage.Range{Low: &low, High: &high}, nil
	}
	return storage.Range{}, fmt.Errorf("%w: unknown range operator %d", core.ErrValidation, n.Op)
}

func (e *Evaluator) exists(name string) (*roaring.Bitmap, error) {
	if name == core.GeoField {
		if err := e.requireGeo(); err != nil || e.geo == nil {
			return bitmap.New(), err
		}
		return e.geo.Documents(), nil
	}
	f, err := e.field(name)
	if err != nil || !f.ok {
		return bitmap.New(), err
	}
	out := bitmap.New()
	collect := func(_ facet.Value, bm *roaring.Bitmap) (bool, error) {
		out.Or(bm)
		return true, nil
	}
	for _, typ := range []facet.Type{facet.TypeNumber, facet.TypeString} {
		if err := e.src.FacetScan(f.id, typ, false, collect); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Evaluator) requireGeo() error {
	if !e.settings.IsFilterable(core.GeoField) {
		return fmt.Errorf("%w: %w: %q is not filterable", core.ErrValidation, core.ErrUnknownField, core.GeoField)
	}
	return nil
}
