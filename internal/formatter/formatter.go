// package formatter exports library entries to CSV, Markdown, plain text and JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// Format names an export format accepted by [WriteExport].
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// ParseFormat accepts the format names and their common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// ExportToCSV converts entries to CSV with columns: ID, Kind, Title, Progress, Total, Status, RemoteID, Dirty, LastSynced
func ExportToCSV(entries []models.LibraryEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Kind", "Title", "Progress", "Total", "Status", "RemoteID", "Dirty", "LastSynced"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			string(e.Kind),
			e.Title,
			strconv.Itoa(e.Progress),
			optionalInt(e.Total),
			string(e.Status),
			optionalInt(e.RemoteID),
			strconv.FormatBool(e.Dirty),
			optionalTime(e.LastSyncedAt),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders entries grouped by media kind, with a cover per entry when covers maps its id to a file
func ExportToMarkdown(entries []models.LibraryEntry, covers map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Library\n\n")
	buf.WriteString(fmt.Sprintf("**Entries**: %d\n", len(entries)))
	buf.WriteString(fmt.Sprintf("**Unsynced**: %d\n\n", countDirty(entries)))

	for _, kind := range models.MediaKinds {
		group := byKind(entries, kind)
		if len(group) == 0 {
			continue
		}

		buf.WriteString(fmt.Sprintf("## %s\n\n", kindHeading(kind)))
		for i, e := range group {
			buf.WriteString(fmt.Sprintf("%d. **%s** %s [%s]", i+1, e.Title, progressString(e), e.Status))
			if e.Dirty {
				buf.WriteString(" *(unsynced)*")
			}
			buf.WriteString("\n")
			if cover := covers[e.ID]; cover != "" {
				buf.WriteString(fmt.Sprintf("   ![%s](%s)\n", e.Title, cover))
			}
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts entries to plain text format
func ExportToText(entries []models.LibraryEntry) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Entries: %d\n\n", len(entries)))
	for i, e := range entries {
		buf.WriteString(fmt.Sprintf("%d. [%s] %s - %s (%s)\n", i+1, e.Kind, e.Title, progressString(e), e.Status))
	}

	return buf.Bytes(), nil
}

// ExportToJSON writes entries as an indented JSON array
func ExportToJSON(entries []models.LibraryEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.LibraryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return append(data, '\n'), nil
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// ExportResult lists the files created by [WriteExport] and [WriteMarkdownExport]
type ExportResult struct {
	Files  []string
	Covers int
}

// WriteExport writes entries in format to path. Markdown exports treat path as a directory.
//
// Defaults to library.{format} (or the library directory for Markdown).
func WriteExport(entries []models.LibraryEntry, format Format, path string) (*ExportResult, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatMarkdown:
		if path == "" {
			path = "library"
		}
		return WriteMarkdownExport(entries, path, false)
	case FormatCSV:
		data, err = ExportToCSV(entries)
	case FormatText:
		data, err = ExportToText(entries)
	case FormatJSON:
		data, err = ExportToJSON(entries)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if path == "" {
		path = "library." + string(format)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s file: %w", format, err)
	}
	return &ExportResult{Files: []string{path}}, nil
}

// WriteMarkdownExport writes {dir}/README.md and, when withCovers is set, {dir}/covers/{id}.jpg per entry.
//
// A cover that cannot be downloaded is skipped and the entry rendered without it.
func WriteMarkdownExport(entries []models.LibraryEntry, dir string, withCovers bool) (*ExportResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &ExportResult{Files: []string{}}
	covers := make(map[string]string)

	if withCovers {
		coverDir := filepath.Join(dir, "covers")
		for _, e := range entries {
			if e.CoverURL == "" {
				continue
			}
			data, err := DownloadImage(e.CoverURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to download cover for %s: %v\n", e.Title, err)
				continue
			}
			if err := os.MkdirAll(coverDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create cover directory: %w", err)
			}
			name := shared.SanitizeFilename(e.ID) + ".jpg"
			if err := os.WriteFile(filepath.Join(coverDir, name), data, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to save cover for %s: %v\n", e.Title, err)
				continue
			}
			covers[e.ID] = "covers/" + name
			result.Files = append(result.Files, filepath.Join(coverDir, name))
			result.Covers++
		}
	}

	mdData, err := ExportToMarkdown(entries, covers)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(dir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

func progressString(e models.LibraryEntry) string {
	if e.Total != nil && *e.Total > 0 {
		return fmt.Sprintf("%d/%d", e.Progress, *e.Total)
	}
	return strconv.Itoa(e.Progress)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func countDirty(entries []models.LibraryEntry) int {
	n := 0
	for _, e := range entries {
		if e.Dirty {
			n++
		}
	}
	return n
}

func byKind(entries []models.LibraryEntry, kind models.MediaKind) []models.LibraryEntry {
	var out []models.LibraryEntry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func kindHeading(k models.MediaKind) string {
	if k == models.MediaText {
		return "Manga"
	}
	return "Anime"
}
