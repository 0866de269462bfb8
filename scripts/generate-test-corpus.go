//go:build ignore

// Package main generates a synthetic document corpus for indexing benchmarks.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -output testdata/corpus
//
// Text and Markdown files start with the metadata header the loader reads
// (Title, Authors, Year, URL). Some files carry no header so the file-stem
// fallback is exercised too.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 500, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	paras     = flag.Int("paragraphs", 12, "Paragraphs per document")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var subjects = []string{
	"arctic foxes", "snowshoe hares", "lemming cycles", "tundra vegetation",
	"permafrost thaw", "sea ice extent", "migratory geese", "polar bear denning",
	"boreal wildfires", "caribou herds",
}

var verbs = []string{
	"depend on", "respond to", "shape", "limit", "track", "amplify", "buffer", "follow",
}

var objects = []string{
	"winter temperatures", "snow depth", "prey availability", "daylight length",
	"predator density", "spring melt timing", "food web structure", "habitat fragmentation",
}

var surnames = []string{
	"Vulpes", "Lagopus", "Nivalis", "Boreas", "Tarandus", "Maritimus", "Lemmus", "Arcticus",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	var bytes int
	for i := 0; i < *numDocs; i++ {
		subject := subjects[rng.Intn(len(subjects))]
		dir := filepath.Join(*outputDir, strings.ReplaceAll(subject, " ", "-"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", dir, err)
			os.Exit(1)
		}

		ext := ".md"
		if i%3 == 0 {
			ext = ".txt"
		}
		path := filepath.Join(dir, fmt.Sprintf("doc-%05d%s", i, ext))
		content := document(rng, i, subject)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
		bytes += len(content)
	}

	fmt.Printf("Generated %d documents (%d KB) in %s\n", *numDocs, bytes/1024, *outputDir)
}

func document(rng *rand.Rand, i int, subject string) string {
	var b strings.Builder
	title := fmt.Sprintf("How %s %s %s", subject, verbs[rng.Intn(len(verbs))], objects[rng.Intn(len(objects))])

	// Every fifth document has no header.
	if i%5 != 0 {
		authors := []string{
			initial(rng) + ". " + surnames[rng.Intn(len(surnames))],
			initial(rng) + ". " + surnames[rng.Intn(len(surnames))],
		}
		fmt.Fprintf(&b, "Title: %s\n", title)
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(authors, ", "))
		fmt.Fprintf(&b, "Year: %d\n", 1995+rng.Intn(30))
		fmt.Fprintf(&b, "URL: https://papers.example.org/%05d\n\n", i)
	}

	for p := 0; p < *paras; p++ {
		n := 3 + rng.Intn(5)
		sentences := make([]string, n)
		for s := range sentences {
			sentences[s] = fmt.Sprintf("%s %s %s in %d of %d surveyed sites.",
				capitalize(subjects[rng.Intn(len(subjects))]),
				verbs[rng.Intn(len(verbs))],
				objects[rng.Intn(len(objects))],
				1+rng.Intn(40), 40+rng.Intn(60))
		}
		b.WriteString(strings.Join(sentences, " "))
		b.WriteString("\n\n")
	}
	return b.String()
}

func initial(rng *rand.Rand) string {
	return string(rune('A' + rng.Intn(26)))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
