// Package ui renders CLI output with lipgloss.
//
// [Styles] is the shared palette for status lines (titles, success, errors, warnings and help text) and
// download progress bars. The table helpers render library entries, sources, search hits, units, queued
// mutations and recorded sync passes as bordered tables.
package ui
