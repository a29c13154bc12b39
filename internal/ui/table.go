package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
)

var (
	headerStyle = NewBold("#7D56F4").Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = NewStyle("#626262")
)

// NewTable builds a bordered table with the palette's header style.
func NewTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// LibraryTable renders library entries, marking unsynced ones with an asterisk.
func LibraryTable(entries []models.LibraryEntry) string {
	t := NewTable("ID", "Kind", "Title", "Progress", "Status", "Remote", "Sync")
	for _, e := range entries {
		progress := strconv.Itoa(e.Progress)
		if e.Total != nil && *e.Total > 0 {
			progress = fmt.Sprintf("%d/%d", e.Progress, *e.Total)
		}
		remote := "-"
		if e.Linked() {
			remote = strconv.Itoa(*e.RemoteID)
		}
		sync := "ok"
		if e.Dirty {
			sync = "*"
		}
		t.Row(shortID(e.ID), string(e.Kind), e.Title, progress, string(e.Status), remote, sync)
	}
	return t.String()
}

// SourcesTable renders registered content sources.
func SourcesTable(sources []models.ContentSource) string {
	t := NewTable("ID", "Name", "Kind", "Capabilities")
	for _, s := range sources {
		caps := ""
		for i, c := range s.Capabilities {
			if i > 0 {
				caps += ","
			}
			caps += string(c)
		}
		t.Row(s.ID, s.Name, string(s.Kind), caps)
	}
	return t.String()
}

// ItemsTable renders search hits.
func ItemsTable(items []providers.Item) string {
	t := NewTable("ID", "Title", "Status")
	for _, it := range items {
		t.Row(it.ID, it.Title, it.Status)
	}
	return t.String()
}

// UnitsTable renders the units of an item, flagging those already downloaded by entry.
func UnitsTable(units []providers.Unit, entry *models.LibraryEntry) string {
	t := NewTable("#", "ID", "Title", "Downloaded")
	for _, u := range units {
		downloaded := ""
		if entry != nil && entry.HasDownloaded(u.ID) {
			downloaded = "yes"
		}
		t.Row(strconv.FormatFloat(u.Number, 'f', -1, 64), u.ID, u.Title, downloaded)
	}
	return t.String()
}

// MutationsTable renders queued or dead-lettered mutations.
func MutationsTable(items []models.QueuedMutation) string {
	t := NewTable("ID", "Kind", "Enqueued", "Attempts", "Last Error")
	for _, m := range items {
		t.Row(shortID(m.ID), m.Kind, m.EnqueuedAt.Local().Format("2006-01-02 15:04"), strconv.Itoa(m.Attempts), m.LastError)
	}
	return t.String()
}

// PassesTable renders recorded sync passes, newest first.
func PassesTable(passes []models.SyncPass) string {
	t := NewTable("When", "Operation", "Success", "Failed", "Detail")
	for _, p := range passes {
		t.Row(p.CreatedAt.Local().Format("2006-01-02 15:04:05"), p.Operation, strconv.Itoa(p.Success), strconv.Itoa(p.Failed), p.Detail)
	}
	return t.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
