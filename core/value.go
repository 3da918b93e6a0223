package core

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindArray
	KindGeo
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	case KindGeo:
		return "geo"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point lies within the legal coordinate ranges.
func (g GeoPoint) Valid() bool {
	if math.IsNaN(g.Lat) || math.IsNaN(g.Lng) {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// Value is a tagged field value. Only the member matching Kind is meaningful.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	Arr  []Value
	Geo  GeoPoint
}

func Null() Value                 { return Value{Kind: KindNull} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value      { return Value{Kind: KindNumber, Num: f} }
func Bool(b bool) Value           { return Value{Kind: KindBoolean, Bool: b} }
func Array(values ...Value) Value { return Value{Kind: KindArray, Arr: values} }
func Geo(lat, lng float64) Value  { return Value{Kind: KindGeo, Geo: GeoPoint{Lat: lat, Lng: lng}} }

// Texts returns the searchable text fragments of the value in order.
// Arrays contribute each element; geo points and nulls contribute nothing.
func (v Value) Texts() []string {
	switch v.Kind {
	case KindString:
		return []string{v.Str}
	case KindNumber:
		return []string{FormatNumber(v.Num)}
	case KindBoolean:
		return []string{strconv.FormatBool(v.Bool)}
	case KindArray:
		var out []string
		for _, elem := range v.Arr {
			out = append(out, elem.Texts()...)
		}
		return out
	default:
		return nil
	}
}

// Scalars returns the value itself or, for arrays, its flattened elements.
func (v Value) Scalars() []Value {
	if v.Kind != KindArray {
		return []Value{v}
	}
	var out []Value
	for _, elem := range v.Arr {
		out = append(out, elem.Scalars()...)
	}
	return out
}

func (v Value) clone() Value {
	if v.Kind == KindArray {
		arr := make([]Value, len(v.Arr))
		for i, elem := range v.Arr {
			arr[i] = elem.clone()
		}
		v.Arr = arr
	}
	return v
}

// Equal reports structural equality.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBoolean:
		return v.Bool == other.Bool
	case KindGeo:
		return v.Geo == other.Geo
	case KindArray:
		return slices.EqualFunc(v.Arr, other.Arr, Value.Equal)
	default:
		return true
	}
}

// Any converts v back into the form ValueFromAny accepts.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBoolean:
		return v.Bool
	case KindGeo:
		return map[string]any{"lat": v.Geo.Lat, "lng": v.Geo.Lng}
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, elem := range v.Arr {
			out[i] = elem.Any()
		}
		return out
	default:
		return nil
	}
}

// FormatNumber renders a number the way it is tokenized and used as a key.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ValueFromAny converts a decoded JSON value into a Value.
// Objects are not accepted here; use DocumentFromMap to flatten them.
func ValueFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, x.String())
		}
		return Number(f), nil
	case []any:
		arr := make([]Value, 0, len(x))
		for _, elem := range x {
			v, err := ValueFromAny(elem)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, v)
		}
		return Array(arr...), nil
	case map[string]any:
		if g, ok := geoFromMap(x); ok {
			return g, nil
		}
		return Value{}, fmt.Errorf("%w: nested object", ErrTypeMismatch)
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrTypeMismatch, raw)
	}
}

// geoFromMap recognizes {"lat": .., "lng": ..} objects.
func geoFromMap(m map[string]any) (Value, bool) {
	if len(m) != 2 {
		return Value{}, false
	}
	lat, okLat := toFloat(m["lat"])
	lng, okLng := toFloat(m["lng"])
	if !okLat || !okLng {
		return Value{}, false
	}
	return Geo(lat, lng), true
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// DocumentFromMap builds a Document from a decoded JSON object.
// Nested objects are flattened into dotted field names, the primary key
// becomes the document key and the reserved vectors field becomes the
// document vector.
func DocumentFromMap(m map[string]any, primaryKey string) (*Document, error) {
	doc := &Document{Fields: make(map[string]Value, len(m))}
	if err := flatten("", m, doc.Fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if raw, ok := m[VectorsField]; ok {
		delete(doc.Fields, VectorsField)
		vec, err := vectorFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		doc.Vector = vec
	}

	key, err := KeyFromValue(doc.Fields[primaryKey], primaryKey)
	if err != nil {
		return nil, err
	}
	doc.Key = key
	return doc, nil
}

func flatten(prefix string, m map[string]any, out map[string]Value) error {
	for name, raw := range m {
		if prefix == "" && name == VectorsField {
			continue
		}
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		if nested, ok := raw.(map[string]any); ok {
			if g, ok := geoFromMap(nested); ok {
				out[full] = g
				continue
			}
			if err := flatten(full, nested, out); err != nil {
				return err
			}
			continue
		}
		v, err := ValueFromAny(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", full, err)
		}
		out[full] = v
	}
	return nil
}

func vectorFromAny(raw any) ([]float32, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of numbers", ErrInvalidVector, VectorsField)
	}
	vec := make([]float32, len(arr))
	for i, elem := range arr {
		f, ok := toFloat(elem)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is not a number", ErrInvalidVector, i)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// KeyFromValue derives an external document key from the primary key value.
// Strings and integral numbers are accepted.
func KeyFromValue(v Value, primaryKey string) (string, error) {
	switch v.Kind {
	case KindString:
		if err := ValidateKey(v.Str); err != nil {
			return "", err
		}
		return v.Str, nil
	case KindNumber:
		if v.Num != math.Trunc(v.Num) || math.IsInf(v.Num, 0) {
			return "", fmt.Errorf("%w: %w: %v", ErrValidation, ErrInvalidDocumentKey, v.Num)
		}
		return FormatNumber(v.Num), nil
	case KindNull:
		return "", fmt.Errorf("%w: %w: %q", ErrValidation, ErrMissingPrimaryKey, primaryKey)
	default:
		return "", fmt.Errorf("%w: %w: primary key is a %s", ErrValidation, ErrInvalidDocumentKey, v.Kind)
	}
}
