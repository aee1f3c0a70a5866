//go:build ignore

// Generates a synthetic story corpus for benchmarking and manual testing.
// Usage: go run scripts/generate-test-corpus.go -seasons 3 -episodes 8 -output testdata/story
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
	seasons   = flag.Int("seasons", 3, "Number of seasons to generate")
	episodes  = flag.Int("episodes", 8, "Episodes per season")
	scenes    = flag.Int("scenes", 6, "Scenes per episode")
	outputDir = flag.String("output", "testdata/story", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var characters = []string{
	"Sullivan", "Marisol", "Brother Eddic", "Captain Venn", "Orla",
	"The Cartographer", "Ines", "Tam", "Warden Halley", "Doc Ferris",
}

var locations = []string{
	"Harrowgate", "the-keep", "the-harbor", "the-salt-market",
	"lighthouse-point", "the-undercroft", "wreckers-cove", "the-mill-road",
}

var tags = []string{
	"storm", "smuggling", "betrayal", "reunion", "siege",
	"festival", "investigation", "departure",
}

var sentenceTemplates = []string{
	"%s crossed %s before the bells rang, watching for anyone who followed.",
	"The talk in %s was all of %s and what the tide had carried in.",
	"%s said nothing, but %s read the answer in the set of their shoulders.",
	"Rain moved over %s while %s counted the boats still missing.",
	"By lamplight %s traced the old route from %s on a salvaged chart.",
	"%s waited at %s long past the hour they had agreed on.",
	"Word of %s reached %s before the messenger did.",
	"Nobody in %s would say aloud what %s had done during the storm.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	files := 0
	for s := 1; s <= *seasons; s++ {
		for e := 1; e <= *episodes; e++ {
			doc := generateEpisode(rng, s, e, *scenes)
			name := fmt.Sprintf("s%02de%02d.md", s, e)
			if err := os.WriteFile(filepath.Join(*outputDir, name), []byte(doc), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
				os.Exit(1)
			}
			files++
		}
	}

	if err := writeEntities(filepath.Join(*outputDir, "entities.yaml")); err != nil {
		fmt.Fprintf(os.Stderr, "write entities: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("generated %d episodes (%d scenes) in %s\n",
		files, files*(*scenes), *outputDir)
	fmt.Printf("import entities with: loreweave entities import %s\n",
		filepath.Join(*outputDir, "entities.yaml"))
}

func generateEpisode(rng *rand.Rand, season, episode, sceneCount int) string {
	var sb strings.Builder
	for sc := 1; sc <= sceneCount; sc++ {
		loc := locations[rng.Intn(len(locations))]
		slug := fmt.Sprintf("%s-%d", loc, sc)

		cast := pickCharacters(rng, 1+rng.Intn(3))
		fmt.Fprintf(&sb, "[SCENE S%dE%d-%d: %s]\n", season, episode, sc, slug)
		fmt.Fprintf(&sb, "@location: %s\n", loc)
		fmt.Fprintf(&sb, "@characters: %s\n", strings.Join(cast, ", "))
		fmt.Fprintf(&sb, "@tags: %s\n\n", tags[rng.Intn(len(tags))])

		for i := 0; i < 3+rng.Intn(4); i++ {
			tmpl := sentenceTemplates[rng.Intn(len(sentenceTemplates))]
			a := cast[rng.Intn(len(cast))]
			b := locations[rng.Intn(len(locations))]
			fmt.Fprintf(&sb, tmpl+"\n", a, b)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func pickCharacters(rng *rand.Rand, n int) []string {
	perm := rng.Perm(len(characters))
	cast := make([]string, 0, n)
	for _, idx := range perm[:n] {
		cast = append(cast, characters[idx])
	}
	return cast
}

func writeEntities(path string) error {
	var sb strings.Builder
	for _, c := range characters {
		fmt.Fprintf(&sb, "- kind: character\n  name: %s\n", c)
	}
	for _, l := range locations {
		fmt.Fprintf(&sb, "- kind: place\n  name: %s\n", l)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
