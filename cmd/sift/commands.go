package main

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/poiesic/sift"
	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/indexing"
	"github.com/poiesic/sift/search"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// maxLineSize bounds one NDJSON document.
const maxLineSize = 16 << 20

func openIndex(c *cli.Context) (*sift.Index, error) {
	dbPath := c.String("db")
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	opts := []sift.Option{sift.WithLogger(slog.Default())}
	if model := c.String("embedding-model"); model != "" {
		aiConfig := ai.NewConfig(
			ai.WithEmbeddingHost(c.String("embedding-host")),
			ai.WithEmbeddingModel(model),
			ai.WithTimeout(c.Duration("embedding-timeout")),
		)
		if err := aiConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid AI configuration: %w", err)
		}
		opts = append(opts, sift.WithAIConfig(aiConfig))
	}

	ix, err := sift.Open(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return ix, nil
}

// openInput opens name, or stdin for "-", and counts its lines when it is
// a regular file.
func openInput(name string) (io.ReadCloser, int, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), 0, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, err
	}
	total, err := countLines(f)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, total, nil
}

func countLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

func parseDocument(line []byte, primaryKey string) (*core.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return core.DocumentFromMap(m, primaryKey)
}

func indexCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one input file")
	}
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	in, total, err := openInput(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	settings, err := ix.Settings(ctx)
	if err != nil {
		return err
	}
	primaryKey := cmp.Or(c.String("primary-key"), settings.PrimaryKey)

	tracker := indexing.NewProgressTracker(c.App.ErrWriter, total, c.Int("report-interval"))
	tracker.Start()

	docs := make([]*core.Document, 0, batchSize)
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		res, err := ix.Pipeline().AddOrReplace(ctx, docs)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		for _, docErr := range res.Errors {
			slog.Warn("document rejected", "key", docErr.Key, "err", docErr.Reason)
		}
		tracker.Batch(res)
		docs = make([]*core.Document, 0, batchSize)
		return nil
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := parseDocument(raw, primaryKey)
		if err != nil {
			slog.Warn("skipping line", "line", line, "err", err)
			tracker.Batch(&indexing.BatchResult{Errors: []indexing.DocumentError{{Reason: err}}})
			continue
		}
		docs = append(docs, doc)
		if len(docs) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	tracker.Finish()

	processed, rejected := tracker.Processed()
	fmt.Fprintf(c.App.Writer, "Indexed %d documents (%d rejected) in %s\n",
		processed-rejected, rejected, tracker.Elapsed().Round(time.Millisecond))
	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one key is required")
	}

	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	res, err := ix.Pipeline().Delete(c.Context, c.Args().Slice())
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	for _, docErr := range res.Errors {
		fmt.Fprintf(c.App.ErrWriter, "%s\n", docErr.Error())
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d documents (version %d)\n", res.CommittedCount, res.Version)
	return nil
}

func searchCommand(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	req := &search.SearchRequest{
		Query:            strings.Join(c.Args().Slice(), " "),
		Filter:           c.String("filter"),
		Sort:             c.StringSlice("sort"),
		MatchingStrategy: core.MatchingStrategy(c.String("strategy")),
		Limit:            c.Int("limit"),
		Offset:           c.Int("offset"),
		Timeout:          c.Duration("timeout"),
	}
	if c.IsSet("lat") || c.IsSet("lng") {
		req.Geo = &search.GeoQuery{
			Point:        core.GeoPoint{Lat: c.Float64("lat"), Lng: c.Float64("lng")},
			RadiusMeters: c.Float64("radius"),
		}
	}

	resp, err := ix.Searcher().Search(c.Context, req)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Found %d hits (version %d, %s)\n", resp.EstimatedTotal, resp.Version, resp.Took.Round(time.Microsecond))
	if resp.Partial {
		fmt.Fprintln(w, "warning: deadline expired, results are partial")
	}
	if resp.VectorDegraded {
		fmt.Fprintln(w, "warning: query embedding unavailable, vector ranking skipped")
	}
	for i, hit := range resp.Hits {
		body, err := json.Marshal(documentMap(hit.Document))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d: %s (%d) %s\n", req.Offset+i, hit.Key, hit.DocumentID, body)
		if c.Bool("details") {
			for _, rb := range hit.RankingDetails {
				fmt.Fprintf(w, "    %-12s %d\n", rb.Rule, rb.Bucket)
			}
		}
	}
	return nil
}

func documentMap(doc *core.Document) map[string]any {
	out := make(map[string]any, len(doc.Fields))
	for name, v := range doc.Fields {
		out[name] = v.Any()
	}
	return out
}

func settingsShowCommand(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	settings, err := ix.Settings(c.Context)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(settings)
}

// loadSettings reads a YAML settings file. Keys absent from the file keep
// their default values.
func loadSettings(path string) (*core.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	settings := core.DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, path, err)
	}
	return settings, nil
}

func settingsApplyCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one settings file")
	}
	settings, err := loadSettings(c.Args().First())
	if err != nil {
		return err
	}

	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	res, err := ix.UpdateSettings(c.Context, settings)
	if err != nil {
		return fmt.Errorf("failed to apply settings: %w", err)
	}
	for _, docErr := range res.Errors {
		fmt.Fprintf(c.App.ErrWriter, "%s\n", docErr.Error())
	}
	fmt.Fprintf(c.App.Writer, "Settings applied, %d documents reindexed (version %d)\n", res.CommittedCount, res.Version)
	return nil
}

func statsCommand(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	stats, err := ix.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Version:    %d\n", stats.Version)
	fmt.Fprintf(w, "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(w, "Terms:      %d\n", stats.Terms)
	fmt.Fprintf(w, "Geo points: %d\n", stats.GeoPoints)
	fmt.Fprintf(w, "Vectors:    %d\n", stats.Vectors)
	fmt.Fprintf(w, "Fields:     %s\n", strings.Join(stats.Fields, ", "))
	return nil
}
