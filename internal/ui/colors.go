package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/tsundoku/internal/models"
)

// Styles is the default palette used by the CLI.
var Styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// Status colors an entry status: active and completed read as success, dropped as an error.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusActive, models.StatusCompleted:
		return p.ok.Render(string(s))
	case models.StatusDropped:
		return p.err.Render(string(s))
	case models.StatusPaused:
		return p.warn.Render(string(s))
	default:
		return p.help.Render(string(s))
	}
}

// Online renders the connectivity state.
func (p *Palette) Online(online bool) string {
	if online {
		return p.ok.Render("online")
	}
	return p.warn.Render("offline")
}

// Bar renders a fixed-width progress bar followed by done/total.
func (p *Palette) Bar(done, total, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if total > 0 {
		filled = min(width, done*width/total)
	}
	bar := p.ok.Render(strings.Repeat("█", filled)) + p.help.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %d/%d", bar, done, total)
}
