// Package facet encodes typed facet values into byte strings whose
// lexicographic order matches the natural order of the values.
package facet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/sift/core"
)

// Type tags an encoded facet value. Numbers sort before strings.
type Type uint8

const (
	TypeNumber Type = iota
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ErrMalformed indicates bytes that are not a valid encoded facet value.
var ErrMalformed = errors.New("malformed facet value")

// Value is a single typed facet value.
type Value struct {
	Type Type
	Num  float64
	Str  string
}

// Number returns a numeric facet value.
func Number(f float64) Value { return Value{Type: TypeNumber, Num: f} }

// String returns a string facet value. The string is normalized.
func String(s string) Value { return Value{Type: TypeString, Str: NormalizeString(s)} }

// FromValue extracts the facet values of a field value. Arrays contribute
// every scalar element, booleans are indexed as strings, geo points and
// nulls produce nothing.
func FromValue(v core.Value) []Value {
	var out []Value
	for _, scalar := range v.Scalars() {
		switch scalar.Kind {
		case core.KindNumber:
			if !math.IsNaN(scalar.Num) {
				out = append(out, Number(scalar.Num))
			}
		case core.KindString:
			out = append(out, String(scalar.Str))
		case core.KindBoolean:
			if scalar.Bool {
				out = append(out, String("true"))
			} else {
				out = append(out, String("false"))
			}
		}
	}
	return out
}

// NormalizeString lowercases and trims s and truncates it to the longest
// prefix of at most core.MaxWordLength bytes that ends on a rune boundary.
func NormalizeString(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) <= core.MaxWordLength {
		return s
	}
	cut := core.MaxWordLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// EncodeNumber maps a float64 onto 8 big-endian bytes that sort in numeric order.
func EncodeNumber(f float64) []byte {
	if f == 0 {
		f = 0 // fold negative zero
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// DecodeNumber is the inverse of EncodeNumber.
func DecodeNumber(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: number has %d bytes", ErrMalformed, len(b))
	}
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

// Encode returns the type tag followed by the order-preserving payload.
func (v Value) Encode() []byte {
	switch v.Type {
	case TypeNumber:
		return append([]byte{byte(TypeNumber)}, EncodeNumber(v.Num)...)
	default:
		return append([]byte{byte(TypeString)}, v.Str...)
	}
}

// Decode parses bytes written by Value.Encode.
func Decode(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	switch Type(b[0]) {
	case TypeNumber:
		f, err := DecodeNumber(b[1:])
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case TypeString:
		return Value{Type: TypeString, Str: string(b[1:])}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type %d", ErrMalformed, b[0])
	}
}

// Compare orders values the same way their encodings sort.
func Compare(a, b Value) int {
	return bytes.Compare(a.Encode(), b.Encode())
}

// EncodeList serializes the facet values of one document field.
func EncodeList(values []Value) []byte {
	encoded := make([][]byte, len(values))
	size := varint.Uint64.Size(uint64(len(values)))
	for i, v := range values {
		encoded[i] = v.Encode()
		size += varint.Uint64.Size(uint64(len(encoded[i]))) + len(encoded[i])
	}
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(values)), buf)
	for _, e := range encoded {
		n += varint.Uint64.Marshal(uint64(len(e)), buf[n:])
		n += copy(buf[n:], e)
	}
	return buf
}

// DecodeList parses bytes written by EncodeList.
func DecodeList(b []byte) ([]Value, error) {
	count, n, err := varint.Uint64.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("%w: count %d", ErrMalformed, count)
	}
	out := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		l, m, err := varint.Uint64.Unmarshal(b[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		n += m
		if uint64(len(b)-n) < l {
			return nil, fmt.Errorf("%w: truncated", ErrMalformed)
		}
		v, err := Decode(b[n : n+int(l)])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		n += int(l)
	}
	return out, nil
}
