package indexing

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/catalog"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/geo"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/vector"
	"golang.org/x/sync/errgroup"
)

// derivedDatabases are cleared before a full reindex. Documents, external
// ids and settings are the source of truth and survive.
var derivedDatabases = []storage.Database{
	storage.DocidWordPositions,
	storage.WordDocids,
	storage.WordFieldDocids,
	storage.WordPairProximityDocids,
	storage.WordsFST,
	storage.FacetByValue,
	storage.FacetByDocument,
	storage.GeoPoints,
	storage.Vectors,
	storage.Fields,
}

// deletion is a document removed outright.
type deletion struct {
	key string
	id  core.DocumentID
}

// change is everything one commit does to the index.
type change struct {
	items    []*item
	replaced []core.DocumentID
	deleted  []deletion

	// oldFields is the stored field map, used to find the facets of removed
	// documents. fields is the map after this batch.
	oldFields *core.FieldMap
	fields    *core.FieldMap

	base *catalog.View

	// settings, when set, are stored with the commit.
	settings *core.Settings

	// reset rebuilds every derived database from the batch alone.
	reset bool
}

// merged is one reduced entry of the merge stream.
type merged struct {
	db    storage.Database
	entry kvEntry
}

// mergeStream runs the k-way merge of every extracted database in parallel
// and streams the reduced entries to a single consumer. done yields the
// first merge error once entries is closed.
type mergeStream struct {
	entries <-chan merged
	done    <-chan error
}

func (p *Pipeline) startMerge(ctx context.Context, extractors []*extractor) (*mergeStream, error) {
	runs := make(map[storage.Database][]runIterator, len(extractedDatabases))
	for _, db := range extractedDatabases {
		for _, x := range extractors {
			r, err := x.sorters[db].finish()
			if err != nil {
				for _, open := range runs {
					closeRuns(open)
				}
				return nil, err
			}
			runs[db] = append(runs[db], r...)
		}
	}

	out := make(chan merged, 1024)
	done := make(chan error, 1)
	g, gctx := errgroup.WithContext(ctx)
	for _, db := range extractedDatabases {
		dbRuns := runs[db]
		g.Go(func() error {
			if p.failMerge != nil {
				if err := p.failMerge(db); err != nil {
					closeRuns(dbRuns)
					return err
				}
			}
			return mergeRuns(gctx, db, dbRuns, func(e kvEntry) error {
				select {
				case out <- merged{db: db, entry: e}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
	}
	go func() {
		done <- g.Wait()
		close(out)
	}()
	return &mergeStream{entries: out, done: done}, nil
}

// abort drains the stream after the consumer failed. The caller must have
// canceled the merge context.
func (s *mergeStream) abort() {
	for range s.entries {
	}
	<-s.done
}

// committer applies a change inside the write transaction.
type committer struct {
	w      *storage.Writer
	logger *slog.Logger

	// emptied holds words whose posting list was removed entirely. added
	// holds the words written by the batch in ascending order.
	emptied map[string]bool
	added   []string
}

func newCommitter(w *storage.Writer, logger *slog.Logger) *committer {
	return &committer{w: w, logger: logger, emptied: make(map[string]bool)}
}

// removeDocument deletes every posting of document id. The postings are
// recovered from the positions and facet-by-document databases, so a
// document whose recovered postings are missing is a consistency error.
func (c *committer) removeDocument(id core.DocumentID, fields *core.FieldMap) error {
	one := bitmap.Of(id)
	positions, err := c.w.DocumentPositions(id)
	if err != nil {
		return err
	}
	for _, word := range slices.Sorted(maps.Keys(positions)) {
		ps := positions[word]
		gone, err := c.w.SubtractBitmap(storage.WordDocids, storage.WordKey(word), one)
		if err != nil {
			return err
		}
		if gone {
			c.emptied[word] = true
		}
		for _, field := range fieldsOf(ps) {
			if _, err := c.w.SubtractBitmap(storage.WordFieldDocids, storage.WordFieldKey(word, field), one); err != nil {
				return err
			}
		}
		if err := c.w.Delete(storage.DocidWordPositions, storage.DocidWordKey(id, word)); err != nil {
			return err
		}
	}
	for pr, prox := range pairProximities(positions) {
		if _, err := c.w.SubtractBitmap(storage.WordPairProximityDocids, storage.PairKey(pr.left, pr.right, prox), one); err != nil {
			return err
		}
	}

	for f := range fields.Len() {
		field := core.FieldID(f)
		values, err := c.w.FacetValues(field, id)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			continue
		}
		for _, v := range values {
			if _, err := c.w.SubtractBitmap(storage.FacetByValue, storage.FacetValueKey(field, v), one); err != nil {
				return err
			}
		}
		if err := c.w.Delete(storage.FacetByDocument, storage.FacetDocumentKey(field, id)); err != nil {
			return err
		}
	}

	if err := c.w.Delete(storage.GeoPoints, storage.DocidKey(id)); err != nil {
		return err
	}
	return c.w.Delete(storage.Vectors, storage.DocidKey(id))
}

// apply writes one merged entry. Bitmaps union into the stored value, the
// other databases are overwritten.
func (c *committer) apply(m merged) error {
	if !m.db.IsBitmap() {
		return c.w.Put(m.db, m.entry.key, m.entry.value)
	}
	ids, err := decodeIDs(m.entry.value)
	if err != nil {
		return err
	}
	if m.db == storage.WordDocids {
		c.added = append(c.added, string(m.entry.key))
	}
	return c.w.UnionBitmap(m.db, m.entry.key, ids)
}

// commitResult is what a successful write transaction produced.
type commitResult struct {
	version    uint64
	dictionary []byte
	documents  uint64
}

// commit runs the whole change in one write transaction. The merge stream
// is consumed inside it, after old postings are removed.
func (p *Pipeline) commit(ctx context.Context, tracker *batchTracker, ch *change, extractors []*extractor) (*commitResult, error) {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := p.startMerge(mctx, extractors)
	if err != nil {
		return nil, err
	}

	var res commitResult
	consumed := false
	err = p.store.Update(ctx, func(w *storage.Writer) error {
		c := newCommitter(w, tracker.logger)
		if err := c.prepare(ch); err != nil {
			return err
		}
		for m := range stream.entries {
			if err := c.apply(m); err != nil {
				return err
			}
		}
		consumed = true
		if err := <-stream.done; err != nil {
			return err
		}

		tracker.to(Committing)
		return c.finish(ch, &res)
	})
	if err != nil {
		if !consumed {
			cancel()
			stream.abort()
		}
		return nil, err
	}
	return &res, nil
}

// prepare clears the derived databases for a reset and removes the
// postings of replaced and deleted documents otherwise.
func (c *committer) prepare(ch *change) error {
	if ch.reset {
		for _, db := range derivedDatabases {
			if err := c.w.Clear(db); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ch.replaced {
		if err := c.removeDocument(id, ch.oldFields); err != nil {
			return fmt.Errorf("remove document %d: %w", id, err)
		}
	}
	for _, d := range ch.deleted {
		if err := c.removeDocument(d.id, ch.oldFields); err != nil {
			return fmt.Errorf("remove document %q: %w", d.key, err)
		}
		if err := c.w.Delete(storage.Documents, storage.DocidKey(d.id)); err != nil {
			return err
		}
		if err := c.w.Delete(storage.ExternalIDs, storage.ExternalKey(d.key)); err != nil {
			return err
		}
	}
	return nil
}

// finish updates the document set, the external ids, the dictionary and
// the field map, then bumps the version.
func (c *committer) finish(ch *change, res *commitResult) error {
	ids, err := c.w.DocumentIDs()
	if err != nil {
		return err
	}
	for _, it := range ch.items {
		ids.Add(uint32(it.id))
		if err := c.w.PutExternalID(it.key, it.id); err != nil {
			return err
		}
	}
	for _, d := range ch.deleted {
		ids.Remove(uint32(d.id))
	}
	if err := c.w.PutDocumentIDs(ids); err != nil {
		return err
	}

	var base iter.Seq2[string, error]
	if !ch.reset && ch.base != nil {
		base = ch.base.Dictionary.Words()
	}
	words, err := mergeWords(base, c.added, c.emptied)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConsistency, err)
	}
	dict, err := query.BuildDictionary(slices.Values(words))
	if err != nil {
		return err
	}
	if err := c.w.PutDictionary(dict); err != nil {
		return err
	}
	if err := c.w.PutFieldMap(ch.fields); err != nil {
		return err
	}
	if ch.settings != nil {
		if err := c.w.PutSettings(ch.settings); err != nil {
			return err
		}
	}

	version, err := c.w.BumpVersion()
	if err != nil {
		return err
	}
	res.version = version
	res.dictionary = dict
	res.documents = ids.GetCardinality()
	c.logger.Debug("commit prepared", "version", version, "words", len(words), "added", len(c.added), "emptied", len(c.emptied))
	return nil
}

// mergeWords combines the previous dictionary with the words a batch added
// and drops the words whose postings were emptied and not added back. added
// must be ascending.
func mergeWords(base iter.Seq2[string, error], added []string, emptied map[string]bool) ([]string, error) {
	out := make([]string, 0, len(added))
	i := 0
	if base != nil {
		for word, err := range base {
			if err != nil {
				return nil, err
			}
			for i < len(added) && added[i] < word {
				out = append(out, added[i])
				i++
			}
			if i < len(added) && added[i] == word {
				i++
			} else if emptied[word] {
				continue
			}
			out = append(out, word)
		}
	}
	return append(out, added[i:]...), nil
}

// nextView derives the view of the new version from the view the batch
// started from.
func nextView(ch *change, res *commitResult) (*catalog.View, error) {
	dict, err := query.LoadDictionary(res.dictionary)
	if err != nil {
		return nil, err
	}
	var (
		points  *geo.Index
		vectors *vector.Flat
	)
	if ch.reset || ch.base == nil {
		points, vectors = geo.NewIndex(), vector.NewFlat()
	} else {
		points, vectors = ch.base.Geo.Copy(), ch.base.Vectors.Copy()
	}
	for _, id := range ch.replaced {
		points.Remove(id)
		vectors.Remove(id)
	}
	for _, d := range ch.deleted {
		points.Remove(d.id)
		vectors.Remove(d.id)
	}
	for _, it := range ch.items {
		if v, ok := it.doc.Fields[core.GeoField]; ok && v.Kind == core.KindGeo && v.Geo.Valid() {
			if err := points.Insert(it.id, v.Geo); err != nil {
				return nil, err
			}
		}
		if len(it.vector) > 0 {
			if err := vectors.Add(it.id, it.vector); err != nil {
				return nil, err
			}
		}
	}
	return &catalog.View{Version: res.version, Dictionary: dict, Geo: points, Vectors: vectors}, nil
}
