package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/store"
)

func TestBuildEntities_AssignsMissingIDs(t *testing.T) {
	entities, err := buildEntities([]entityDoc{
		{Kind: "character", Name: "Sullivan", Aliases: []string{"Sully"}},
		{ID: "place-harrowgate", Kind: "place", Name: "Harrowgate"},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.NotEmpty(t, entities[0].ID)
	assert.Equal(t, store.EntityKindCharacter, entities[0].Kind)
	assert.Equal(t, []string{"Sully"}, entities[0].Aliases)

	assert.Equal(t, "place-harrowgate", entities[1].ID)
	assert.Equal(t, store.EntityKindPlace, entities[1].Kind)
}

func TestBuildEntities_UniqueGeneratedIDs(t *testing.T) {
	entities, err := buildEntities([]entityDoc{
		{Kind: "character", Name: "Ada"},
		{Kind: "character", Name: "Bel"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, entities[0].ID, entities[1].ID)
}

func TestBuildEntities_RejectsUnknownKind(t *testing.T) {
	_, err := buildEntities([]entityDoc{{Kind: "starship", Name: "Nebula"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starship")
}

func TestBuildEntities_RejectsMissingName(t *testing.T) {
	_, err := buildEntities([]entityDoc{{Kind: "character"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestParseEntityKind_LocationAliasesToPlace(t *testing.T) {
	kind, err := parseEntityKind("location")
	require.NoError(t, err)
	assert.Equal(t, store.EntityKindPlace, kind)
}
