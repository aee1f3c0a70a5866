package mcp

import (
	"fmt"
	"strings"

	"github.com/loreweave/loreweave/internal/search"
)

// FormatQueryResults renders a query response as markdown. Entity hits
// show name and aliases; passage hits show scene coordinates and text.
func FormatQueryResults(resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Query type: `%s`. Found %d result", resp.QueryType, len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r *search.Result) {
	if r == nil {
		return
	}

	fmt.Fprintf(sb, "### %d. %s (%s, score: %.2f)\n", num, resultTitle(r), r.Kind, r.Score)
	fmt.Fprintf(sb, "**ID:** `%s`\n", r.ID)

	if r.Kind == "passage" {
		if scene := sceneLabel(r.Metadata); scene != "" {
			fmt.Fprintf(sb, "**Scene:** %s\n", scene)
		}
		if loc := r.Metadata["location"]; loc != "" {
			fmt.Fprintf(sb, "**Location:** %s\n", loc)
		}
		if chars := r.Metadata["characters"]; chars != "" {
			fmt.Fprintf(sb, "**Characters:** %s\n", chars)
		}
	} else if aliases := r.Metadata["aliases"]; aliases != "" {
		fmt.Fprintf(sb, "**Aliases:** %s\n", aliases)
	}
	fmt.Fprintf(sb, "**Source:** %s\n\n", r.Source)

	if r.Content != "" {
		sb.WriteString(r.Content)
		sb.WriteString("\n\n")
	}
}

// resultTitle picks a display title: entity name, passage slug, or the ID.
func resultTitle(r *search.Result) string {
	if name := r.Metadata["name"]; name != "" {
		return name
	}
	if slug := r.Metadata["slug"]; slug != "" {
		return slug
	}
	return r.ID
}

// sceneLabel renders passage scene coordinates, e.g. "S1E2 scene 3".
func sceneLabel(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	season, episode, scene := meta["season"], meta["episode"], meta["scene"]
	if season == "" || episode == "" {
		return ""
	}
	label := fmt.Sprintf("S%sE%s", season, episode)
	if scene != "" {
		label += fmt.Sprintf(" scene %s", scene)
	}
	return label
}

// ToQueryOutput converts an engine response to the tool output schema.
func ToQueryOutput(resp *search.Response) QueryOutput {
	if resp == nil {
		return QueryOutput{}
	}

	out := QueryOutput{
		Query:           resp.Query,
		QueryType:       string(resp.QueryType),
		Results:         make([]QueryResultOutput, 0, len(resp.Results)),
		Strategies:      resp.Metadata.StrategiesExecuted,
		PlanExplanation: resp.Metadata.PlanExplanation,
	}
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, QueryResultOutput{
			ID:       r.ID,
			Kind:     r.Kind,
			Content:  r.Content,
			Score:    r.Score,
			Source:   r.Source,
			Metadata: r.Metadata,
		})
	}
	return out
}
