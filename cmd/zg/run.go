package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/embed"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/pipeline"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

func runCycle() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	outPath := fs.String("o", "", "Write digest JSON to file (default stdout)")
	fs.Parse(os.Args[1:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: zg run [flags] <items.json>")
		os.Exit(1)
	}

	initLogging()
	defer logging.Close()

	cfg := loadConfig(*configPath)

	raws, err := readRaws(fs.Arg(0))
	if err != nil {
		log.Fatalf("failed to read items: %v", err)
	}

	reg := openRegistry(cfg)
	defer reg.Close()

	engine, err := pipeline.New(cfg, reg, newEmbedder(cfg.Embed))
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	digest, err := engine.Run(context.Background(), raws, time.Now())
	if err != nil {
		log.Fatalf("cycle failed: %v", err)
	}

	data, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode digest: %v", err)
	}
	if *outPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		log.Fatalf("failed to write digest: %v", err)
	}
	fmt.Printf("Digest %s written to %s (%d stories)\n",
		digest.CycleID, *outPath, len(digest.Stories))
}

// readRaws decodes a JSON array of raw items, or JSONL when the file
// extension says so.
func readRaws(path string) ([]signal.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".jsonl") {
		var raws []signal.Raw
		dec := json.NewDecoder(strings.NewReader(string(data)))
		for dec.More() {
			var r signal.Raw
			if err := dec.Decode(&r); err != nil {
				return nil, fmt.Errorf("line %d: %w", len(raws)+1, err)
			}
			raws = append(raws, r)
		}
		return raws, nil
	}

	var raws []signal.Raw
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	return raws, nil
}

// newEmbedder wires the Ollama collaborator. Items missing embeddings fail
// open downstream when the endpoint is unreachable.
func newEmbedder(cfg config.EmbedConfig) embed.Embedder {
	e := embed.NewOllamaEmbedder(cfg.Endpoint, cfg.Model,
		time.Duration(cfg.TimeoutSecs)*time.Second)
	if !e.Available() {
		logging.Warn("Embedding endpoint unavailable, relying on precomputed embeddings",
			"endpoint", cfg.Endpoint)
	}
	return e
}
