package core

import (
	"errors"
	"maps"
	"slices"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// ErrMalformedRecord indicates an encoded record that cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record")

// Serializers for the records persisted by the storage layer. Maps are
// written in sorted key order so equal records encode to equal bytes.
var (
	ValueMUS    = valueMUS{}
	DocumentMUS = documentMUS{}
	SettingsMUS = settingsMUS{}
)

var (
	_ mus.Serializer[Value]    = ValueMUS
	_ mus.Serializer[Document] = DocumentMUS
	_ mus.Serializer[Settings] = SettingsMUS
)

// musWriter appends MUS encoded values to a preallocated buffer.
type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) uint(v uint64)     { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) int(v int)         { w.n += varint.Int64.Marshal(int64(v), w.bs[w.n:]) }
func (w *musWriter) str(s string)      { w.n += ord.String.Marshal(s, w.bs[w.n:]) }
func (w *musWriter) bool(b bool)       { w.n += ord.Bool.Marshal(b, w.bs[w.n:]) }
func (w *musWriter) float64(f float64) { w.n += raw.Float64.Marshal(f, w.bs[w.n:]) }
func (w *musWriter) float32(f float32) { w.n += raw.Float32.Marshal(f, w.bs[w.n:]) }

func (w *musWriter) strs(ss []string) {
	w.uint(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// musReader decodes MUS values and remembers the first error.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return int(v)
}

func (r *musReader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) float64() float64 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) float32() float32 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

// length reads a collection length and rejects lengths the remaining input
// cannot possibly hold.
func (r *musReader) length() int {
	l := r.uint()
	if r.err == nil && l > uint64(len(r.bs)-r.n) {
		r.err = ErrMalformedRecord
		return 0
	}
	return int(l)
}

func (r *musReader) strs() []string {
	l := r.length()
	if l == 0 {
		return nil
	}
	out := make([]string, 0, l)
	for i := 0; i < l && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}

func sizeStrs(ss []string) int {
	size := varint.Uint64.Size(uint64(len(ss)))
	for _, s := range ss {
		size += ord.String.Size(s)
	}
	return size
}

func sizeInt(v int) int { return varint.Int64.Size(int64(v)) }

// valueMUS serializes Value as its kind followed by the matching payload.
type valueMUS struct{}

func (valueMUS) Marshal(v Value, bs []byte) (n int) {
	w := &musWriter{bs: bs}
	writeValue(w, v)
	return w.n
}

func writeValue(w *musWriter, v Value) {
	w.uint(uint64(v.Kind))
	switch v.Kind {
	case KindString:
		w.str(v.Str)
	case KindNumber:
		w.float64(v.Num)
	case KindBoolean:
		w.bool(v.Bool)
	case KindArray:
		w.uint(uint64(len(v.Arr)))
		for _, elem := range v.Arr {
			writeValue(w, elem)
		}
	case KindGeo:
		w.float64(v.Geo.Lat)
		w.float64(v.Geo.Lng)
	}
}

func (valueMUS) Unmarshal(bs []byte) (v Value, n int, err error) {
	r := &musReader{bs: bs}
	v = readValue(r)
	return v, r.n, r.err
}

func readValue(r *musReader) Value {
	kind := Kind(r.uint())
	switch kind {
	case KindNull:
		return Null()
	case KindString:
		return String(r.str())
	case KindNumber:
		return Number(r.float64())
	case KindBoolean:
		return Bool(r.bool())
	case KindArray:
		l := r.length()
		arr := make([]Value, 0, l)
		for i := 0; i < l && r.err == nil; i++ {
			arr = append(arr, readValue(r))
		}
		return Array(arr...)
	case KindGeo:
		lat := r.float64()
		lng := r.float64()
		return Geo(lat, lng)
	default:
		if r.err == nil {
			r.err = ErrMalformedRecord
		}
		return Value{}
	}
}

func (s valueMUS) Size(v Value) (size int) {
	size = varint.Uint64.Size(uint64(v.Kind))
	switch v.Kind {
	case KindString:
		size += ord.String.Size(v.Str)
	case KindNumber:
		size += raw.Float64.Size(v.Num)
	case KindBoolean:
		size += ord.Bool.Size(v.Bool)
	case KindArray:
		size += varint.Uint64.Size(uint64(len(v.Arr)))
		for _, elem := range v.Arr {
			size += s.Size(elem)
		}
	case KindGeo:
		size += raw.Float64.Size(v.Geo.Lat) + raw.Float64.Size(v.Geo.Lng)
	}
	return size
}

func (s valueMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return n, err
}

// documentMUS serializes Document as key, sorted fields and vector.
type documentMUS struct{}

func (documentMUS) Marshal(d Document, bs []byte) (n int) {
	w := &musWriter{bs: bs}
	w.str(d.Key)
	names := d.FieldNames()
	w.uint(uint64(len(names)))
	for _, name := range names {
		w.str(name)
		writeValue(w, d.Fields[name])
	}
	w.uint(uint64(len(d.Vector)))
	for _, f := range d.Vector {
		w.float32(f)
	}
	return w.n
}

func (documentMUS) Unmarshal(bs []byte) (d Document, n int, err error) {
	r := &musReader{bs: bs}
	d.Key = r.str()
	l := r.length()
	d.Fields = make(map[string]Value, l)
	for i := 0; i < l && r.err == nil; i++ {
		name := r.str()
		d.Fields[name] = readValue(r)
	}
	if vl := r.length(); vl > 0 {
		d.Vector = make([]float32, vl)
		for i := range d.Vector {
			d.Vector[i] = r.float32()
		}
	}
	return d, r.n, r.err
}

func (documentMUS) Size(d Document) (size int) {
	size = ord.String.Size(d.Key)
	size += varint.Uint64.Size(uint64(len(d.Fields)))
	for name, v := range d.Fields {
		size += ord.String.Size(name) + ValueMUS.Size(v)
	}
	size += varint.Uint64.Size(uint64(len(d.Vector)))
	size += len(d.Vector) * raw.Float32.Size(0)
	return size
}

func (s documentMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return n, err
}

// settingsMUS serializes Settings field by field in declaration order.
type settingsMUS struct{}

func (settingsMUS) Marshal(s Settings, bs []byte) (n int) {
	w := &musWriter{bs: bs}
	w.str(s.PrimaryKey)
	w.strs(s.SearchableFields)
	w.strs(s.FilterableFields)
	w.strs(s.SortableFields)
	w.strs(s.RankingRules)
	w.strs(s.StopWords)
	keys := slices.Sorted(maps.Keys(s.Synonyms))
	w.uint(uint64(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.strs(s.Synonyms[k])
	}
	w.bool(s.TypoTolerance.Enabled)
	w.int(s.TypoTolerance.OneTypoMinLength)
	w.int(s.TypoTolerance.TwoTyposMinLength)
	w.strs(s.TypoTolerance.DisableOnWords)
	w.str(string(s.MatchingStrategy))
	w.str(s.Stemming)
	w.strs(s.EmbedFields)
	w.int(s.MaxPrefixExpansions)
	w.float64(s.Weights.TypoPenalty)
	w.float64(s.Weights.PrefixPenalty)
	w.float64(s.Weights.SynonymPenalty)
	w.float64(s.Weights.SplitPenalty)
	w.int(s.Weights.SplitTypoCost)
	w.int(s.Weights.SynonymTypoCost)
	w.int(s.Weights.SemanticHits)
	w.float64(s.Weights.VectorBucketWidth)
	return w.n
}

func (settingsMUS) Unmarshal(bs []byte) (s Settings, n int, err error) {
	r := &musReader{bs: bs}
	s.PrimaryKey = r.str()
	s.SearchableFields = r.strs()
	s.FilterableFields = r.strs()
	s.SortableFields = r.strs()
	s.RankingRules = r.strs()
	s.StopWords = r.strs()
	l := r.length()
	s.Synonyms = make(map[string][]string, l)
	for i := 0; i < l && r.err == nil; i++ {
		k := r.str()
		s.Synonyms[k] = r.strs()
	}
	s.TypoTolerance.Enabled = r.bool()
	s.TypoTolerance.OneTypoMinLength = r.int()
	s.TypoTolerance.TwoTyposMinLength = r.int()
	s.TypoTolerance.DisableOnWords = r.strs()
	s.MatchingStrategy = MatchingStrategy(r.str())
	s.Stemming = r.str()
	s.EmbedFields = r.strs()
	s.MaxPrefixExpansions = r.int()
	s.Weights.TypoPenalty = r.float64()
	s.Weights.PrefixPenalty = r.float64()
	s.Weights.SynonymPenalty = r.float64()
	s.Weights.SplitPenalty = r.float64()
	s.Weights.SplitTypoCost = r.int()
	s.Weights.SynonymTypoCost = r.int()
	s.Weights.SemanticHits = r.int()
	s.Weights.VectorBucketWidth = r.float64()
	return s, r.n, r.err
}

func (settingsMUS) Size(s Settings) (size int) {
	size = ord.String.Size(s.PrimaryKey)
	size += sizeStrs(s.SearchableFields) + sizeStrs(s.FilterableFields) + sizeStrs(s.SortableFields)
	size += sizeStrs(s.RankingRules) + sizeStrs(s.StopWords)
	size += varint.Uint64.Size(uint64(len(s.Synonyms)))
	for k, v := range s.Synonyms {
		size += ord.String.Size(k) + sizeStrs(v)
	}
	size += ord.Bool.Size(s.TypoTolerance.Enabled)
	size += sizeInt(s.TypoTolerance.OneTypoMinLength) + sizeInt(s.TypoTolerance.TwoTyposMinLength)
	size += sizeStrs(s.TypoTolerance.DisableOnWords)
	size += ord.String.Size(string(s.MatchingStrategy)) + ord.String.Size(s.Stemming)
	size += sizeStrs(s.EmbedFields)
	size += sizeInt(s.MaxPrefixExpansions)
	size += 4 * raw.Float64.Size(0)
	size += sizeInt(s.Weights.SplitTypoCost) + sizeInt(s.Weights.SynonymTypoCost) + sizeInt(s.Weights.SemanticHits)
	size += raw.Float64.Size(s.Weights.VectorBucketWidth)
	return size
}

func (s settingsMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return n, err
}
