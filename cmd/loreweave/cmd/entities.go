package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	loreerr "github.com/loreweave/loreweave/internal/errors"
	"github.com/loreweave/loreweave/internal/output"
	"github.com/loreweave/loreweave/internal/store"
)

func newEntitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Manage story entities",
		Long:  `Import and inspect the structured entity store (characters and places).`,
	}

	cmd.AddCommand(newEntitiesImportCmd())
	cmd.AddCommand(newEntitiesListCmd())
	return cmd
}

// entityDoc is the YAML authoring shape for one entity.
type entityDoc struct {
	ID          string   `yaml:"id"`
	Kind        string   `yaml:"kind"`
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	Description string   `yaml:"description"`
}

func newEntitiesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import entities from a YAML file",
		Long: `Upsert entity records from a YAML list.

Each entry needs a kind and a name; entries without an id are assigned
one. Re-importing a file updates existing entities in place.

Example file:

    - kind: character
      name: Sullivan
      aliases: [Sully]
      description: The harbor master of Harrowgate.
    - kind: location
      name: Harrowgate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntitiesImport(cmd.Context(), cmd, args[0])
		},
	}
	return cmd
}

func runEntitiesImport(ctx context.Context, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return loreerr.ValidationError("cannot read entity file", err).
			WithDetail("path", path)
	}

	var docs []entityDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return loreerr.ValidationError("malformed entity YAML", err).
			WithDetail("path", path)
	}
	if len(docs) == 0 {
		return loreerr.ValidationError("entity file contains no entries", nil).
			WithDetail("path", path)
	}

	entities, err := buildEntities(docs)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.lore.SaveEntities(ctx, entities); err != nil {
		return err
	}
	if err := a.resolver.Refresh(ctx); err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("imported %d entities from %s", len(entities), path)
	for _, e := range entities {
		out.Detailf("%s: %s (%s)", e.Kind, e.Name, e.ID)
	}
	return nil
}

func buildEntities(docs []entityDoc) ([]*store.Entity, error) {
	now := time.Now()
	entities := make([]*store.Entity, 0, len(docs))
	for i, doc := range docs {
		kind, err := parseEntityKind(doc.Kind)
		if err != nil {
			return nil, loreerr.ValidationError(
				fmt.Sprintf("entry %d: %v", i+1, err), nil)
		}
		if doc.Name == "" {
			return nil, loreerr.ValidationError(
				fmt.Sprintf("entry %d: name is required", i+1), nil)
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		entities = append(entities, &store.Entity{
			ID:          id,
			Kind:        kind,
			Name:        doc.Name,
			Aliases:     doc.Aliases,
			Description: doc.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return entities, nil
}

func parseEntityKind(s string) (store.EntityKind, error) {
	switch s {
	case string(store.EntityKindCharacter):
		return store.EntityKindCharacter, nil
	case string(store.EntityKindPlace), "location":
		return store.EntityKindPlace, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

func newEntitiesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntitiesList(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runEntitiesList(ctx context.Context, cmd *cobra.Command) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	entities, err := a.lore.ListEntities(ctx, "")
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(entities) == 0 {
		fmt.Fprintln(w, "No entities stored. Import some with 'loreweave entities import'.")
		return nil
	}
	for _, e := range entities {
		fmt.Fprintf(w, "%-12s %-24s %s\n", e.Kind, e.Name, e.ID)
	}
	return nil
}
