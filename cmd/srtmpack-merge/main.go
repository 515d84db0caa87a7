// Command srtmpack-merge consolidates several sqlite tile-cache databases
// into one, and can prune stale entries from the result. It is adapted
// from the teacher's cmd/merge (read N mbtiles inputs, union their
// contents into one output mbtiles), generalized from a zoom/bounds-aware
// tile grid onto the flat id-keyed cache table.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/srtm-tiles/srtmpack/internal/tilecache"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func main() {
	outputPath := flag.String("output", "", "The output cache database to write to")
	pruneOlderThanDays := flag.Int("prune-older-than", 0, "After merging, delete tiles older than this many days (0 disables pruning)")
	flag.Parse()
	inputPaths := flag.Args()

	if *outputPath == "" {
		log.Fatalf("Must specify --output path")
	}
	if len(inputPaths) == 0 {
		log.Fatalf("Must specify at least one input path")
	}
	if pathExists(*outputPath) {
		log.Fatalf("Output path %s already exists and cannot be overwritten", *outputPath)
	}

	output, err := tilecache.Open(*outputPath, nil)
	if err != nil {
		log.Fatalf("Couldn't create output cache: %+v", err)
	}
	if err := output.Init(); err != nil {
		log.Fatalf("Couldn't initialize output cache schema: %+v", err)
	}
	defer output.Close()

	var merged, skipped int
	for _, inputPath := range inputPaths {
		input, err := tilecache.Open(inputPath, nil)
		if err != nil {
			log.Fatalf("Couldn't open input cache %s: %+v", inputPath, err)
		}
		if err := input.Init(); err != nil {
			log.Fatalf("Couldn't initialize input cache schema for %s: %+v", inputPath, err)
		}

		ids, err := input.GetAllTiles()
		if err != nil {
			log.Fatalf("Couldn't list tiles in %s: %+v", inputPath, err)
		}

		for _, id := range ids {
			entry, err := input.Get(id)
			if err != nil {
				log.Printf("Skipping %s from %s: %+v", id, inputPath, err)
				skipped++
				continue
			}
			if entry == nil {
				skipped++
				continue
			}
			if err := output.Store(*entry); err != nil {
				log.Printf("Couldn't merge %s from %s: %+v", id, inputPath, err)
				skipped++
				continue
			}
			merged++
		}

		input.Close()
	}
	log.Printf("Merged %d tiles (%d skipped) into %s", merged, skipped, *outputPath)

	if *pruneOlderThanDays > 0 {
		n, err := output.PruneOldTiles(*pruneOlderThanDays)
		if err != nil {
			log.Fatalf("Couldn't prune output cache: %+v", err)
		}
		log.Printf("Pruned %d tiles older than %d days", n, *pruneOlderThanDays)
	}
}
