// Package alias resolves names and pronouns to their surface-form
// equivalence sets. Sets are derived from entity records, with synthetic
// first-person pronoun entries for the configured protagonist, and are used
// to broaden lexical keyword sets and to spot entity mentions in candidate
// text.
package alias

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/loreweave/loreweave/internal/store"
)

// protagonistPronouns are the first-person forms that refer to the
// protagonist in first-person narration.
var protagonistPronouns = []string{"i", "me", "my", "mine", "myself"}

// EntitySource supplies the entity records the lookup table derives from.
// Satisfied by store.LoreStore.
type EntitySource interface {
	ListEntities(ctx context.Context, kind store.EntityKind) ([]*store.Entity, error)
}

// lookupTable maps every surface form to its full equivalence set. All
// members of a set share the same sorted slice, so resolving any member
// returns the same set.
type lookupTable struct {
	sets map[string][]string
}

// Resolver answers surface-form lookups against the current table. The
// table sits behind an atomic pointer: Refresh builds a complete new table
// and swaps it in, so in-flight queries never observe a partial one.
type Resolver struct {
	entities    EntitySource
	protagonist string

	table atomic.Pointer[lookupTable]
}

// NewResolver creates a resolver. Until Refresh runs, the table holds only
// the protagonist pronoun set (when a protagonist is configured). entities
// may be nil for a static resolver.
func NewResolver(entities EntitySource, protagonist string) *Resolver {
	r := &Resolver{
		entities:    entities,
		protagonist: protagonist,
	}
	r.table.Store(buildTable(nil, protagonist))
	return r
}

// Refresh rebuilds the lookup table from the entity source and swaps it in.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.entities == nil {
		return fmt.Errorf("no entity source configured")
	}
	entities, err := r.entities.ListEntities(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}
	table := buildTable(entities, r.protagonist)
	r.table.Store(table)
	slog.Debug("alias_table_refreshed",
		slog.Int("entities", len(entities)),
		slog.Int("surface_forms", len(table.sets)))
	return nil
}

// Resolve returns the sorted, deduplicated surface-form set for a term.
// Unknown terms resolve to their own normalized form; terms that normalize
// to nothing resolve to an empty set. Resolving any member of a set returns
// that same set.
func (r *Resolver) Resolve(term string) []string {
	table := r.table.Load()

	lower := strings.ToLower(strings.TrimSpace(term))
	if set, ok := table.sets[lower]; ok {
		return slices.Clone(set)
	}
	norm := store.NormalizeName(term)
	if norm != lower {
		if set, ok := table.sets[norm]; ok {
			return slices.Clone(set)
		}
	}
	if norm != "" {
		return []string{norm}
	}
	if lower != "" {
		return []string{lower}
	}
	return nil
}

// Known reports whether the term is a surface form in the current table.
// The query analyzer uses this to spot entity mentions in raw queries.
func (r *Resolver) Known(term string) bool {
	table := r.table.Load()
	if _, ok := table.sets[strings.ToLower(strings.TrimSpace(term))]; ok {
		return true
	}
	_, ok := table.sets[store.NormalizeName(term)]
	return ok
}

// Contains reports whether any surface form of the term's set occurs as a
// phrase in the text. This is the mention check behind entity boosting.
func (r *Resolver) Contains(term, text string) bool {
	for _, form := range r.Resolve(term) {
		if store.ContainsPhrase(text, form) {
			return true
		}
	}
	return false
}

// Protagonist returns the configured protagonist name, empty when none.
func (r *Resolver) Protagonist() string {
	return r.protagonist
}

// Size reports the number of distinct surface forms in the current table.
func (r *Resolver) Size() int {
	return len(r.table.Load().sets)
}

type formSet map[string]struct{}

// buildTable computes the full equivalence closure: entity sets that share
// a surface form merge into one set, and the protagonist's set absorbs the
// pronoun entries through its configured name.
func buildTable(entities []*store.Entity, protagonist string) *lookupTable {
	index := make(map[string]formSet)

	if key := surfaceForm(protagonist); key != "" {
		mergeForms(index, append([]string{key}, protagonistPronouns...))
	}
	for _, e := range entities {
		if forms := entityForms(e); len(forms) > 0 {
			mergeForms(index, forms)
		}
	}

	sets := make(map[string][]string, len(index))
	for form, fs := range index {
		if _, done := sets[form]; done {
			continue
		}
		members := make([]string, 0, len(fs))
		for f := range fs {
			members = append(members, f)
		}
		slices.Sort(members)
		for _, f := range members {
			sets[f] = members
		}
	}
	return &lookupTable{sets: sets}
}

// mergeForms unions the given forms with every existing group any of them
// already belongs to, then points all members at the merged group.
func mergeForms(index map[string]formSet, forms []string) {
	merged := make(formSet, len(forms))
	for _, form := range forms {
		merged[form] = struct{}{}
		if existing, ok := index[form]; ok {
			for f := range existing {
				merged[f] = struct{}{}
			}
		}
	}
	for f := range merged {
		index[f] = merged
	}
}

func entityForms(e *store.Entity) []string {
	forms := make([]string, 0, len(e.Aliases)+1)
	if f := surfaceForm(e.Name); f != "" {
		forms = append(forms, f)
	}
	for _, a := range e.Aliases {
		if f := surfaceForm(a); f != "" {
			forms = append(forms, f)
		}
	}
	return forms
}

// surfaceForm normalizes a name the same way entity lookups do, so the
// resolver and the structured store agree on what matches.
func surfaceForm(s string) string {
	return store.NormalizeName(s)
}
