package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// SourcesList prints every registered content source.
func (r *Runner) SourcesList(ctx context.Context, cmd *cli.Command) error {
	sources := r.sources().List()

	if cmd.Bool("json") {
		return r.writeJSON(sources, cmd.Bool("pretty"))
	}

	if len(sources) == 0 {
		return r.writePlain("No content sources registered\n")
	}
	return r.writePlain("%s\n", ui.SourcesTable(sources))
}

// SourcesSearch searches one source's catalog.
func (r *Runner) SourcesSearch(ctx context.Context, cmd *cli.Command) error {
	sourceID := cmd.StringArg("source")
	query := cmd.StringArg("query")
	if sourceID == "" || query == "" {
		return fmt.Errorf("%w: usage: sources search <source> <query>", shared.ErrMissingArgument)
	}

	p, err := r.sources().Resolve(sourceID)
	if err != nil {
		return err
	}

	page := cmd.Int("page")
	r.logger.Debug("searching source", "source", sourceID, "query", query, "page", page)

	result, err := p.Search(ctx, providers.SearchFilter{Query: query, Page: page})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}

	if len(result.Items) == 0 {
		return r.writePlain("No results for %q\n", query)
	}

	r.writePlain("%s\n", ui.ItemsTable(result.Items))
	if result.HasNextPage {
		r.writePlain("%s\n", ui.Styles.Help(fmt.Sprintf("More results: --page %d", providers.SearchFilter{Page: page}.NormalizedPage()+1)))
	}
	return nil
}

// SourcesInfo prints the details of one catalog item.
func (r *Runner) SourcesInfo(ctx context.Context, cmd *cli.Command) error {
	p, itemID, err := r.sourceItem(cmd)
	if err != nil {
		return err
	}

	item, err := p.GetDetails(ctx, itemID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(item, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n", ui.Styles.Title(item.Title))
	r.writePlain("ID:     %s\n", item.ID)
	r.writePlain("Source: %s\n", item.SourceID)
	if item.Kind != "" {
		r.writePlain("Kind:   %s\n", item.Kind)
	}
	if item.Status != "" {
		r.writePlain("Status: %s\n", item.Status)
	}
	if len(item.Genres) > 0 {
		r.writePlain("Genres: %s\n", strings.Join(item.Genres, ", "))
	}
	if item.Description != "" {
		r.writePlainln("%s", item.Description)
	}
	return nil
}

// SourcesUnits lists an item's units, flagging those downloaded for the matching library entry.
func (r *Runner) SourcesUnits(ctx context.Context, cmd *cli.Command) error {
	p, itemID, err := r.sourceItem(cmd)
	if err != nil {
		return err
	}

	units, err := p.ListUnits(ctx, itemID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(units, cmd.Bool("pretty"))
	}

	var entry *models.LibraryEntry
	if err := r.open(); err == nil {
		entry = r.entryForItem(p.Source().ID, itemID)
	} else {
		r.logger.Debug("library unavailable; download state not shown", "error", err)
	}

	if len(units) == 0 {
		return r.writePlain("No units listed for %s\n", itemID)
	}
	return r.writePlain("%s\n", ui.UnitsTable(units, entry))
}

func (r *Runner) sourceItem(cmd *cli.Command) (providers.Provider, string, error) {
	sourceID := cmd.StringArg("source")
	itemID := cmd.StringArg("item")
	if sourceID == "" || itemID == "" {
		return nil, "", fmt.Errorf("%w: source and item ids are required", shared.ErrMissingArgument)
	}

	p, err := r.sources().Resolve(sourceID)
	if err != nil {
		return nil, "", err
	}
	return p, itemID, nil
}

// entryForItem returns the library entry created from sourceID/itemID, or nil.
func (r *Runner) entryForItem(sourceID, itemID string) *models.LibraryEntry {
	entries, err := r.library.List("")
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.SourceID == sourceID && e.ItemID == itemID {
			return &e
		}
	}
	return nil
}
