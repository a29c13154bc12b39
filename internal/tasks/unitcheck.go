package tasks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/shared"
	"golang.org/x/time/rate"
)

// UnitCheckOpts configures a concurrent check for new units.
type UnitCheckOpts struct {
	NumWorkers int     // Concurrent workers (default: 4, max: 8)
	RateLimit  float64 // Provider requests per second (default: 2)
}

// UnitCheckResult is the outcome of checking one library entry.
type UnitCheckResult struct {
	Entry    models.LibraryEntry
	Latest   float64          // Highest unit number the provider lists
	NewUnits []providers.Unit // Units past the entry's progress that were not downloaded, ascending
	Error    error
}

// UnitCheckReport aggregates a check over many entries.
type UnitCheckReport struct {
	Checked int
	WithNew int
	Failed  int
	Results []UnitCheckResult
}

// Tasks converts every new unit in the report into a download task, grouped by entry in ascending unit order.
func (r *UnitCheckReport) Tasks() []models.DownloadTask {
	var tasks []models.DownloadTask
	for _, res := range r.Results {
		for _, u := range res.NewUnits {
			tasks = append(tasks, models.DownloadTask{
				SourceID:   res.Entry.SourceID,
				ItemID:     res.Entry.ItemID,
				ItemTitle:  res.Entry.Title,
				UnitID:     u.ID,
				UnitNumber: u.Number,
				EntryID:    res.Entry.ID,
			})
		}
	}
	return tasks
}

// UnitChecker asks the providers of library entries which units were released past the entry's progress.
type UnitChecker struct {
	registry ProviderResolver
	logger   *log.Logger
}

// NewUnitChecker creates a checker resolving providers through registry.
func NewUnitChecker(registry ProviderResolver, logger *log.Logger) *UnitChecker {
	return &UnitChecker{registry: registry, logger: shared.WithLogger(logger, "component", "units")}
}

// Check lists the units of every entry created from a provider using a rate-limited worker pool.
//
// Entries without a source and item id are ignored. Per-entry failures are reported in the results.
func (c *UnitChecker) Check(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	entries []models.LibraryEntry,
	opts UnitCheckOpts,
) (*UnitCheckReport, error) {
	if c.registry == nil {
		return nil, fmt.Errorf("%w: provider registry not initialized", shared.ErrServiceUnavailable)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2.0
	}

	var candidates []models.LibraryEntry
	for _, e := range entries {
		if e.SourceID != "" && e.ItemID != "" {
			candidates = append(candidates, e)
		}
	}

	report := &UnitCheckReport{Results: make([]UnitCheckResult, 0, len(candidates))}
	if len(candidates) == 0 {
		return report, nil
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan models.LibraryEntry, len(candidates))
	results := make(chan UnitCheckResult, len(candidates))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go c.worker(ctx, &wg, limiter, jobs, results)
	}

	sendProgress(prog, checkStartedUpdate(len(candidates)))
	go func() {
		defer close(jobs)
		for _, e := range candidates {
			select {
			case <-ctx.Done():
				return
			case jobs <- e:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.Checked++
		switch {
		case res.Error != nil:
			report.Failed++
		case len(res.NewUnits) > 0:
			report.WithNew++
		}
		report.Results = append(report.Results, res)
		sendProgress(prog, checkResultUpdate(report.Checked, len(candidates), res))
	}

	slices.SortFunc(report.Results, func(a, b UnitCheckResult) int {
		return cmp.Compare(a.Entry.CanonicalTitle, b.Entry.CanonicalTitle)
	})

	c.logger.Info("unit check finished", "checked", report.Checked, "with_new", report.WithNew, "failed", report.Failed)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("unit check interrupted: %w", err)
	}
	return report, nil
}

func (c *UnitChecker) worker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	jobs <-chan models.LibraryEntry,
	results chan<- UnitCheckResult,
) {
	defer wg.Done()

	for entry := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			results <- UnitCheckResult{Entry: entry, Error: err}
			continue
		}
		results <- c.checkEntry(ctx, entry)
	}
}

func (c *UnitChecker) checkEntry(ctx context.Context, entry models.LibraryEntry) UnitCheckResult {
	res := UnitCheckResult{Entry: entry}

	p, ok := c.registry.Get(entry.SourceID)
	if !ok {
		res.Error = fmt.Errorf("%w: %s", shared.ErrProviderNotFound, entry.SourceID)
		return res
	}

	units, err := p.ListUnits(ctx, entry.ItemID)
	if err != nil {
		res.Error = fmt.Errorf("failed to list units: %w", err)
		return res
	}
	if len(units) == 0 {
		return res
	}

	providers.SortUnits(units)
	res.Latest = units[0].Number
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		if u.Number > float64(entry.Progress) && !entry.HasDownloaded(u.ID) {
			res.NewUnits = append(res.NewUnits, u)
		}
	}
	return res
}
