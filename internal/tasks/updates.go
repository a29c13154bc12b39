package tasks

import (
	"fmt"

	"github.com/desertthunder/tsundoku/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	PushEntries Phase = iota
	PullEntries
	DrainQueue
	DownloadUnits
	CheckUpdates
)

func (p Phase) String() string {
	switch p {
	case PushEntries:
		return "push_entries"
	case PullEntries:
		return "pull_entries"
	case DrainQueue:
		return "drain_queue"
	case DownloadUnits:
		return "download_units"
	case CheckUpdates:
		return "check_updates"
	default:
		return ""
	}
}

func pushUpdate(step, total int, entry models.LibraryEntry, ok bool) ProgressUpdate {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	return ProgressUpdate{
		Phase:   PushEntries,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s (%s %d)", step, total, mark, entry.Title, entry.Kind.UnitLabel(), entry.Progress),
		Data:    entry,
	}
}

func pullUpdate(step, total int, kind models.MediaKind, fetched int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PullEntries,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetched %d remote %s entries", fetched, kind),
	}
}

func pullFailedUpdate(step, total int, kind models.MediaKind, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PullEntries,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("✗ failed to fetch %s entries: %v", kind, err),
	}
}

func downloadUpdate(task models.DownloadTask, done, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DownloadUnits,
		Step:    done,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", done, total, task),
		Data:    task,
	}
}

func drainUpdate(step, total int, item models.QueuedMutation, outcome string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DrainQueue,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, item.Kind, outcome),
		Data:    item,
	}
}

func checkStartedUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CheckUpdates,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Checking %d entries for new units...", total),
	}
}

func checkResultUpdate(step, total int, res UnitCheckResult) ProgressUpdate {
	if res.Error != nil {
		return ProgressUpdate{
			Phase:   CheckUpdates,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Entry.Title, res.Error),
		}
	}
	return ProgressUpdate{
		Phase:   CheckUpdates,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s: %d new", step, total, res.Entry.Title, len(res.NewUnits)),
		Data:    res,
	}
}
