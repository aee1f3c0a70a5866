// Package ingest turns marked-up story documents into persisted passages:
// scene splitting, per-model embedding, and transactional writes to the
// lore store plus the derived lexical and vector indexes.
package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	loreerr "github.com/loreweave/loreweave/internal/errors"
	"github.com/loreweave/loreweave/internal/store"
)

// markerPattern matches a scene boundary on its own line:
//
//	[SCENE S<season>E<episode>-<scene>: <slug>]
//
// The tag is case-insensitive; the slug is kept verbatim.
var markerPattern = regexp.MustCompile(`(?i)^\[scene\s+s(\d+)e(\d+)-(\d+)\s*:\s*([^\]]*)\]\s*$`)

// markerish flags lines that look like a scene marker attempt, so a typo
// becomes an explicit error instead of silently joining the previous scene.
var markerish = regexp.MustCompile(`(?i)^\[scene[\s:]`)

// Attribute line prefixes recognized immediately after a marker.
const (
	attrLocation   = "@location:"
	attrCharacters = "@characters:"
	attrTags       = "@tags:"
)

// Scene is one parsed passage-to-be.
type Scene struct {
	Season  int
	Episode int
	Number  int
	Slug    string

	Location   string
	Characters []string
	Tags       []string

	// Text is the passage body with marker and attribute lines removed.
	Text string
}

// PassageID derives the canonical passage identifier. The same marker
// always yields the same ID, which is what makes re-ingestion replace
// instead of duplicate.
func (s *Scene) PassageID() string {
	return fmt.Sprintf("s%02de%02d-sc%02d", s.Season, s.Episode, s.Number)
}

// Metadata renders the scene's structural attributes as passage metadata.
func (s *Scene) Metadata() *store.PassageMetadata {
	return &store.PassageMetadata{
		PassageID:  s.PassageID(),
		Season:     s.Season,
		Episode:    s.Episode,
		Scene:      s.Number,
		Slug:       s.Slug,
		Location:   s.Location,
		Characters: append([]string(nil), s.Characters...),
		Tags:       append([]string(nil), s.Tags...),
	}
}

// Split parses a document into ordered scenes. Text before the first
// marker is ignored. A line that starts like a marker but does not parse
// is an ERR_405_MARKER_INVALID error naming the offending line.
func Split(document string) ([]*Scene, error) {
	var scenes []*Scene
	var current *Scene
	var body []string
	inAttributes := false

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(body, "\n"))
		scenes = append(scenes, current)
		current = nil
		body = nil
	}

	for lineNo, line := range strings.Split(document, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := markerPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			season, _ := strconv.Atoi(m[1])
			episode, _ := strconv.Atoi(m[2])
			number, _ := strconv.Atoi(m[3])
			current = &Scene{
				Season:  season,
				Episode: episode,
				Number:  number,
				Slug:    strings.TrimSpace(m[4]),
			}
			inAttributes = true
			continue
		}
		if markerish.MatchString(trimmed) {
			return nil, loreerr.New(loreerr.ErrCodeMarkerInvalid,
				fmt.Sprintf("malformed scene marker on line %d: %q", lineNo+1, trimmed), nil).
				WithSuggestion("Expected [SCENE S<season>E<episode>-<scene>: <slug>]")
		}

		if current == nil {
			continue
		}

		if inAttributes {
			if attr, value, ok := attributeLine(trimmed); ok {
				switch attr {
				case attrLocation:
					current.Location = value
				case attrCharacters:
					current.Characters = splitList(value)
				case attrTags:
					current.Tags = splitList(value)
				}
				continue
			}
			if trimmed != "" {
				inAttributes = false
			}
		}
		body = append(body, line)
	}
	flush()
	return scenes, nil
}

// attributeLine recognizes one @key: value line.
func attributeLine(line string) (attr, value string, ok bool) {
	lower := strings.ToLower(line)
	for _, prefix := range []string{attrLocation, attrCharacters, attrTags} {
		if strings.HasPrefix(lower, prefix) {
			return prefix, strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", "", false
}

// splitList parses a comma-separated attribute value.
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
