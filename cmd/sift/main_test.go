package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"sift"}, args...))
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestSetupLogger(t *testing.T) {
	_, _, err := run(t, "--log-level", "verbose", "stats", "--db", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCommandFlags(t *testing.T) {
	t.Run("db is required", func(t *testing.T) {
		_, _, err := run(t, "stats")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db")
	})

	t.Run("index needs one file", func(t *testing.T) {
		_, _, err := run(t, "index", "--db", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input file")
	})

	t.Run("batch size must be positive", func(t *testing.T) {
		_, _, err := run(t, "index", "--db", t.TempDir(), "--batch-size", "0", "docs.ndjson")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch-size")
	})

	t.Run("delete needs keys", func(t *testing.T) {
		_, _, err := run(t, "delete", "--db", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key")
	})
}

func TestParseDocument(t *testing.T) {
	doc, err := parseDocument([]byte(`{"sku": "a-1", "price": 12.5, "_geo": {"lat": 1, "lng": 2}}`), "sku")
	require.NoError(t, err)
	assert.Equal(t, "a-1", doc.Key)
	assert.Equal(t, core.Number(12.5), doc.Fields["price"])
	assert.Equal(t, core.Geo(1, 2), doc.Fields["_geo"])

	_, err = parseDocument([]byte(`not json`), "id")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestLoadSettings(t *testing.T) {
	path := writeFile(t, "settings.yaml", "sortableFields: [price]\nstopWords: [the]\n")
	settings, err := loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, settings.SortableFields)
	assert.Equal(t, []string{"the"}, settings.StopWords)
	assert.Equal(t, core.DefaultRankingRules, settings.RankingRules)

	_, err = loadSettings(writeFile(t, "bad.yaml", "sortableFields: {"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestEndToEnd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "index")
	docs := writeFile(t, "docs.ndjson", `{"id": "1", "title": "runing shoe", "price": 20}
{"id": "2", "title": "running shoes", "price": 10}

not json
{"title": "no key"}
`)

	out, _, err := run(t, "index", "--db", db, "--batch-size", "1", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 documents (2 rejected)")

	out, _, err = run(t, "search", "--db", db, "--details", "running", "shoes")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 hits")
	assert.Contains(t, out, "0: 2 (1)")
	assert.Contains(t, out, "1: 1 (0)")
	assert.Contains(t, out, "typo")

	_, _, err = run(t, "search", "--db", db, "--sort", "price:desc")
	require.Error(t, err)

	settings := writeFile(t, "settings.yaml", "sortableFields: [price]\n")
	out, _, err = run(t, "settings", "apply", "--db", db, settings)
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents reindexed")

	out, _, err = run(t, "settings", "show", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "primaryKey: id")
	assert.Contains(t, out, "price")

	out, _, err = run(t, "search", "--db", db, "--sort", "price:desc")
	require.NoError(t, err)
	assert.Contains(t, out, "0: 1 (0)")
	assert.Contains(t, out, "1: 2 (1)")

	out, errOut, err := run(t, "delete", "--db", db, "1", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 documents")
	assert.Contains(t, errOut, "missing")

	out, _, err = run(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents:  1")
	assert.Contains(t, out, "title")
}
