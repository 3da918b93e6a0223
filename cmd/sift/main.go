// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
}

func embeddingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name; vectors are not generated when empty",
		},
		&cli.DurationFlag{
			Name:  "embedding-timeout",
			Usage: "Timeout of one embedding request",
			Value: 5 * time.Second,
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sift",
		Usage: "Hybrid full-text and vector search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "Add or replace documents from an NDJSON file",
				ArgsUsage: "FILE (- for stdin)",
				Action:    indexCommand,
				Flags: append([]cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents committed per batch",
						Value: 1000,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 1000,
					},
					&cli.StringFlag{
						Name:  "primary-key",
						Usage: "Field holding the document key (defaults to the index settings)",
					},
				}, embeddingFlags()...),
			},
			{
				Name:      "delete",
				Usage:     "Delete documents by key",
				ArgsUsage: "KEY...",
				Action:    deleteCommand,
				Flags:     []cli.Flag{dbFlag()},
			},
			{
				Name:      "search",
				Usage:     "Run a query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: append([]cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:    "filter",
						Aliases: []string{"f"},
						Usage:   "Filter expression, e.g. 'genre = comedy AND year >= 2000'",
					},
					&cli.StringSliceFlag{
						Name:    "sort",
						Aliases: []string{"s"},
						Usage:   "Sort clause such as price:asc (repeatable)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of hits",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of hits to skip",
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Matching strategy (all, last); defaults to the index settings",
					},
					&cli.Float64Flag{
						Name:  "lat",
						Usage: "Latitude of the geo point",
					},
					&cli.Float64Flag{
						Name:  "lng",
						Usage: "Longitude of the geo point",
					},
					&cli.Float64Flag{
						Name:  "radius",
						Usage: "Keep only hits within this many meters of the geo point",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Query deadline",
					},
					&cli.BoolFlag{
						Name:  "details",
						Usage: "Print the ranking bucket of every rule",
					},
				}, embeddingFlags()...),
			},
			{
				Name:  "settings",
				Usage: "Show or apply index settings",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the index settings as YAML",
						Action: settingsShowCommand,
						Flags:  []cli.Flag{dbFlag()},
					},
					{
						Name:      "apply",
						Usage:     "Apply settings from a YAML file and reindex",
						ArgsUsage: "FILE",
						Action:    settingsApplyCommand,
						Flags:     append([]cli.Flag{dbFlag()}, embeddingFlags()...),
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print index statistics",
				Action: statsCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
