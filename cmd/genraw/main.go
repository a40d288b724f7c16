package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"entitysync/internal/canonical"
	"entitysync/internal/normalize"
)

func main() {
	var (
		source     string
		kindName   string
		count      int
		malformed  float64
		duplicates float64
		seed       uint64
		outputFile string
	)
	flag.StringVar(&source, "source", normalize.SourceFakeStore, "payload shape: fakestore|dummyjson")
	flag.StringVar(&kindName, "kind", "products", "products|carts|users")
	flag.IntVar(&count, "count", 100, "number of records to generate")
	flag.Float64Var(&malformed, "malformed-rate", 0, "fraction of records to corrupt")
	flag.Float64Var(&duplicates, "duplicate-rate", 0, "fraction of records that repeat an earlier id")
	flag.Uint64Var(&seed, "seed", 0, "random seed, 0 for random")
	flag.StringVar(&outputFile, "output", "-", "output JSONL file, - for stdout")
	flag.Parse()

	kind, err := canonical.ParseKind(kindName)
	if err != nil {
		log.Fatalf("kind: %v", err)
	}
	records, err := newGenerator(genOptions{
		Source:        source,
		Kind:          kind,
		Count:         count,
		MalformedRate: malformed,
		DuplicateRate: duplicates,
		Seed:          seed,
	}).run()
	if err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	if err := write(records, outputFile); err != nil {
		log.Fatalf("write failed: %v", err)
	}
	log.Printf("generated %d %s %s records to %s", len(records), source, kind, outputFile)
}

func write(records []map[string]any, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "-" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		defer file.Close()
		w = file
	}
	enc := json.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i+1, err)
		}
	}
	return nil
}
