package indexing

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
	"github.com/poiesic/sift/storage"
)

// arrayGap separates the elements of an array field so that no word pair
// spans two elements.
const arrayGap = core.MaxProximity + 1

// extractedDatabases are the databases extraction writes, in merge order.
var extractedDatabases = []storage.Database{
	storage.DocidWordPositions,
	storage.WordDocids,
	storage.WordFieldDocids,
	storage.WordPairProximityDocids,
	storage.FacetByValue,
	storage.FacetByDocument,
	storage.Documents,
	storage.GeoPoints,
	storage.Vectors,
}

// item is one document of a batch after the received stage.
type item struct {
	key      string
	id       core.DocumentID
	doc      *core.Document
	vector   []float32
	replaced bool
}

// extractor derives postings for the documents of one worker. It owns its
// sorters and reads only immutable shared state.
type extractor struct {
	analyzer  *analysis.Analyzer
	settings  *core.Settings
	fields    *core.FieldMap
	stopWords map[string]bool
	sorters   map[storage.Database]*sorter
	logger    *slog.Logger
}

func newExtractor(worker int, dir string, limit int, analyzer *analysis.Analyzer, settings *core.Settings, fields *core.FieldMap, logger *slog.Logger) *extractor {
	x := &extractor{
		analyzer:  analyzer,
		settings:  settings,
		fields:    fields,
		stopWords: analyzer.WordSet(settings.StopWords),
		sorters:   make(map[storage.Database]*sorter, len(extractedDatabases)),
		logger:    logger,
	}
	name := fmt.Sprintf("w%02d", worker)
	for _, db := range extractedDatabases {
		x.sorters[db] = newSorter(db, dir, name, limit)
	}
	return x
}

func (x *extractor) extract(it *item) error {
	positions := x.positions(it.doc)
	if err := x.emitWords(it.id, positions); err != nil {
		return err
	}
	if err := x.emitFacets(it); err != nil {
		return err
	}
	if err := x.sorters[storage.Documents].put(storage.DocidKey(it.id), storage.MarshalDocument(it.doc)); err != nil {
		return err
	}
	if len(it.vector) > 0 {
		if err := x.sorters[storage.Vectors].put(storage.DocidKey(it.id), storage.MarshalVector(it.vector)); err != nil {
			return err
		}
	}
	return nil
}

// searchableFields returns the ids of the document fields whose text is
// indexed.
func (x *extractor) searchableFields(doc *core.Document) []core.FieldID {
	var out []core.FieldID
	if len(x.settings.SearchableFields) == 0 {
		for name := range doc.Fields {
			if id, ok := x.fields.ID(name); ok {
				out = append(out, id)
			}
		}
		slices.Sort(out)
		return out
	}
	for _, name := range x.settings.SearchableFields {
		if _, present := doc.Fields[name]; !present {
			continue
		}
		if id, ok := x.fields.ID(name); ok {
			out = append(out, id)
		}
	}
	return out
}

// positions tokenizes the searchable fields of doc. Stop words keep their
// offset but are not indexed, and offsets past core.MaxPosition are dropped.
func (x *extractor) positions(doc *core.Document) map[string][]uint32 {
	out := make(map[string][]uint32)
	for _, field := range x.searchableFields(doc) {
		name, _ := x.fields.Name(field)
		offset := 0
		for i, text := range doc.Fields[name].Texts() {
			if i > 0 {
				offset += arrayGap
			}
			for _, tok := range x.analyzer.Segment(text) {
				if offset >= core.MaxPosition {
					break
				}
				if !x.stopWords[tok.Text] {
					out[tok.Text] = append(out[tok.Text], core.Position(field, offset))
				}
				offset++
			}
		}
	}
	return out
}

func (x *extractor) emitWords(id core.DocumentID, positions map[string][]uint32) error {
	for word, ps := range positions {
		slices.Sort(ps)
		if err := x.sorters[storage.DocidWordPositions].put(storage.DocidWordKey(id, word), storage.MarshalPositions(ps)); err != nil {
			return err
		}
		if err := x.sorters[storage.WordDocids].addID(storage.WordKey(word), id); err != nil {
			return err
		}
		for _, field := range fieldsOf(ps) {
			if err := x.sorters[storage.WordFieldDocids].addID(storage.WordFieldKey(word, field), id); err != nil {
				return err
			}
		}
	}
	for p, prox := range pairProximities(positions) {
		if err := x.sorters[storage.WordPairProximityDocids].addID(storage.PairKey(p.left, p.right, prox), id); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) emitFacets(it *item) error {
	for _, name := range it.doc.FieldNames() {
		v := it.doc.Fields[name]
		if name == core.GeoField {
			if v.Kind != core.KindGeo {
				x.logger.Warn("ignoring non geo value in geo field", "key", it.key, "kind", v.Kind)
				continue
			}
			if !v.Geo.Valid() {
				x.logger.Warn("ignoring invalid geo point", "key", it.key, "lat", v.Geo.Lat, "lng", v.Geo.Lng)
				continue
			}
			if err := x.sorters[storage.GeoPoints].put(storage.DocidKey(it.id), storage.MarshalGeoPoint(v.Geo)); err != nil {
				return err
			}
			continue
		}
		if !x.settings.IsFacet(name) {
			continue
		}
		field, ok := x.fields.ID(name)
		if !ok {
			continue
		}
		values := uniqueFacets(facet.FromValue(v))
		if len(values) == 0 {
			continue
		}
		for _, fv := range values {
			if err := x.sorters[storage.FacetByValue].addID(storage.FacetValueKey(field, fv), it.id); err != nil {
				return err
			}
		}
		if err := x.sorters[storage.FacetByDocument].put(storage.FacetDocumentKey(field, it.id), facet.EncodeList(values)); err != nil {
			return err
		}
	}
	return nil
}

func uniqueFacets(values []facet.Value) []facet.Value {
	slices.SortFunc(values, facet.Compare)
	return slices.CompactFunc(values, func(a, b facet.Value) bool { return facet.Compare(a, b) == 0 })
}

// fieldsOf returns the distinct fields of sorted positions.
func fieldsOf(positions []uint32) []core.FieldID {
	var out []core.FieldID
	for _, p := range positions {
		field, _ := core.SplitPosition(p)
		if len(out) == 0 || out[len(out)-1] != field {
			out = append(out, field)
		}
	}
	return out
}

type pair struct {
	left, right string
}

// pairProximities derives the word pairs of a document with their smallest
// distance. A pair is recorded in reading order at its distance and in
// reverse order one step further, both capped at core.MaxProximity.
func pairProximities(positions map[string][]uint32) map[pair]uint8 {
	type slot struct {
		offset int
		word   string
	}
	fields := make(map[core.FieldID][]slot)
	for word, ps := range positions {
		for _, p := range ps {
			field, offset := core.SplitPosition(p)
			fields[field] = append(fields[field], slot{offset: offset, word: word})
		}
	}

	out := make(map[pair]uint8)
	record := func(left, right string, d int) {
		if d < 1 || d > core.MaxProximity {
			return
		}
		k := pair{left, right}
		if cur, ok := out[k]; !ok || uint8(d) < cur {
			out[k] = uint8(d)
		}
	}
	for _, slots := range fields {
		slices.SortFunc(slots, func(a, b slot) int { return a.offset - b.offset })
		for i := range slots {
			for j := i + 1; j < len(slots); j++ {
				d := slots[j].offset - slots[i].offset
				if d > core.MaxProximity {
					break
				}
				record(slots[i].word, slots[j].word, d)
				record(slots[j].word, slots[i].word, d+1)
			}
		}
	}
	return out
}
