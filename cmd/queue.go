package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// QueueList prints queued mutations in replay order.
func (r *Runner) QueueList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	items, err := r.queue.Pending()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(items, cmd.Bool("pretty"))
	}
	if len(items) == 0 {
		return r.writePlain("Queue is empty\n")
	}
	return r.writePlain("%s\n", ui.MutationsTable(items))
}

// QueueDrain probes connectivity and replays the queue once.
func (r *Runner) QueueDrain(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	online := r.monitor.Probe(probeCtx)
	cancel()
	if !online {
		n, _ := r.queue.Len()
		return fmt.Errorf("%w: %d mutations stay queued", shared.ErrOffline, n)
	}

	progress, done := r.printProgress()
	r.queue.SetProgress(progress)
	result := r.queue.Drain(ctx)
	r.queue.SetProgress(nil)
	close(progress)
	<-done

	r.writePlainln("")
	r.writePlainHeader("Drain Complete")
	r.writePlain("Replayed: %d  Failed: %d  Dead-lettered: %d  Kept: %d  Remaining: %d\n",
		result.Processed, result.Failed, result.DeadLettered, result.Orphaned, result.Remaining)
	if result.Stopped {
		r.writePlain("%s\n", ui.Styles.Warn("Drain stopped early; remaining items will be retried"))
	}
	return nil
}

// QueueDead prints dead-lettered mutations.
func (r *Runner) QueueDead(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	items, err := r.queue.DeadLetters()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(items, cmd.Bool("pretty"))
	}
	if len(items) == 0 {
		return r.writePlain("No dead letters\n")
	}
	return r.writePlain("%s\n", ui.MutationsTable(items))
}

// QueueRequeue moves a dead letter, by id or unique id prefix, back to the tail of the queue.
func (r *Runner) QueueRequeue(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	ref := cmd.StringArg("id")
	if ref == "" {
		return fmt.Errorf("%w: mutation id", shared.ErrMissingArgument)
	}

	id, err := r.deadLetterID(ref)
	if err != nil {
		return err
	}

	m, err := r.queue.Requeue(id)
	if err != nil {
		return err
	}
	return r.writePlain("%s %s (%s)\n", ui.Styles.OK("✓ Requeued"), m.ID, m.Kind)
}

// QueuePurge deletes every dead letter.
func (r *Runner) QueuePurge(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	n, err := r.mutations.PurgeDeadLetters()
	if err != nil {
		return err
	}
	return r.writePlain("%s %d dead letters\n", ui.Styles.OK("✓ Purged"), n)
}

func (r *Runner) deadLetterID(ref string) (string, error) {
	items, err := r.queue.DeadLetters()
	if err != nil {
		return "", err
	}

	var matches []string
	for _, m := range items {
		if m.ID == ref {
			return m.ID, nil
		}
		if len(ref) < len(m.ID) && m.ID[:len(ref)] == ref {
			matches = append(matches, m.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", shared.ErrMutationNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d dead letters", shared.ErrInvalidArgument, ref, len(matches))
	}
}
