package search

import (
	"context"
	"time"

	"github.com/loreweave/loreweave/internal/rarity"
	"github.com/loreweave/loreweave/internal/store"
)

// staticEntities is a fixed EntitySource for analyzer and planner tests.
type staticEntities []*store.Entity

func (s staticEntities) ListEntities(_ context.Context, kind store.EntityKind) ([]*store.Entity, error) {
	var out []*store.Entity
	for _, e := range s {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func character(id, name string, aliases ...string) *store.Entity {
	return &store.Entity{
		ID:        id,
		Kind:      store.EntityKindCharacter,
		Name:      name,
		Aliases:   aliases,
		UpdatedAt: time.Now(),
	}
}

func place(id, name string, aliases ...string) *store.Entity {
	return &store.Entity{
		ID:        id,
		Kind:      store.EntityKindPlace,
		Name:      name,
		Aliases:   aliases,
		UpdatedAt: time.Now(),
	}
}

// fixedDictionary satisfies DictionarySource with a prebuilt dictionary.
type fixedDictionary struct {
	dict *rarity.Dictionary
}

func (f fixedDictionary) Current() *rarity.Dictionary {
	return f.dict
}

func builtDictionary(totalDocs int, docFreq map[string]int) fixedDictionary {
	return fixedDictionary{dict: rarity.Build(rarity.CorpusStats{
		TotalDocs: totalDocs,
		DocFreq:   docFreq,
	})}
}
