package tasks

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// Sink stores one fetched content item of a download task.
type Sink interface {
	Write(task models.DownloadTask, content providers.Content, r io.Reader) error
}

// DirSink writes content under Root as <source>/<item>/<unit>/<index><ext>.
type DirSink struct {
	Root string
}

// Dir returns the directory a task's content is written to.
func (s DirSink) Dir(task models.DownloadTask) string {
	item := task.ItemTitle
	if item == "" {
		item = task.ItemID
	}
	unit := strconv.FormatFloat(task.UnitNumber, 'f', -1, 64)
	return filepath.Join(s.Root, shared.SanitizeFilename(task.SourceID), shared.SanitizeFilename(item), shared.SanitizeFilename(unit))
}

func (s DirSink) Write(task models.DownloadTask, content providers.Content, r io.Reader) error {
	dir := s.Dir(task)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	name := fmt.Sprintf("%03d%s", content.Index, contentExt(content))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return f.Close()
}

func contentExt(c providers.Content) string {
	if u, err := url.Parse(c.URL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if c.MIMEType != "" {
		if exts, err := mime.ExtensionsByType(c.MIMEType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}

// UnitMarker records a downloaded unit on a library entry.
type UnitMarker interface {
	MarkDownloaded(id, unitID string) error
}

// DownloadProgress is called after each content item of a task is stored.
type DownloadProgress func(task models.DownloadTask, done, total int)

// ProgressTo returns a [DownloadProgress] that forwards every step to ch without blocking.
func ProgressTo(ch chan<- ProgressUpdate) DownloadProgress {
	return func(task models.DownloadTask, done, total int) {
		sendProgress(ch, downloadUpdate(task, done, total))
	}
}

// DownloaderConfig holds the optional collaborators of a [Downloader].
type DownloaderConfig struct {
	Sink       Sink // Defaults to a [DirSink] under the working directory
	Marker     UnitMarker
	OnProgress DownloadProgress
	Logger     *log.Logger
}

// Downloader processes download tasks one at a time in FIFO order.
//
// At most one processing loop runs; enqueueing while it runs only extends the queue.
// Failed tasks are logged and dropped without retry.
type Downloader struct {
	registry   ProviderResolver
	sink       Sink
	marker     UnitMarker
	onProgress DownloadProgress
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []models.DownloadTask
	busy   bool
	done   chan struct{}
	failed int
}

// NewDownloader creates an idle downloader resolving providers through registry.
func NewDownloader(registry ProviderResolver, cfg DownloaderConfig) *Downloader {
	sink := cfg.Sink
	if sink == nil {
		sink = DirSink{Root: "."}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Downloader{
		registry:   registry,
		sink:       sink,
		marker:     cfg.Marker,
		onProgress: cfg.OnProgress,
		logger:     shared.WithLogger(cfg.Logger, "component", "downloads"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue appends task to the queue and starts processing if idle.
func (d *Downloader) Enqueue(task models.DownloadTask) {
	d.EnqueueMany([]models.DownloadTask{task})
}

// EnqueueMany appends tasks in order and starts processing if idle.
func (d *Downloader) EnqueueMany(tasks []models.DownloadTask) {
	if len(tasks) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.queue = append(d.queue, tasks...)
	if d.busy {
		return
	}
	d.busy = true
	d.done = make(chan struct{})
	go d.loop(d.done)
}

func (d *Downloader) loop(done chan struct{}) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.busy = false
			close(done)
			d.mu.Unlock()
			return
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		start := time.Now()
		if err := d.process(d.ctx, task); err != nil {
			d.mu.Lock()
			d.failed++
			d.mu.Unlock()
			d.logger.Error("download failed", "task", task.String(), "error", err)
			continue
		}
		d.logger.Info("unit downloaded", "task", task.String(), "elapsed", elapsed(start))
	}
}

func (d *Downloader) process(ctx context.Context, task models.DownloadTask) error {
	p, ok := d.registry.Get(task.SourceID)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrProviderNotFound, task.SourceID)
	}
	fetcher, ok := p.(providers.ContentFetcher)
	if !ok {
		return fmt.Errorf("%w: %s cannot fetch content", shared.ErrUnsupported, task.SourceID)
	}

	units, err := p.ListUnits(ctx, task.ItemID)
	if err != nil {
		return fmt.Errorf("failed to list units: %w", err)
	}
	unit, ok := providers.FindUnit(units, task.UnitID)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnitNotFound, task.UnitID)
	}

	contents, err := p.GetUnitContent(ctx, unit.ID)
	if err != nil {
		return fmt.Errorf("failed to get unit content: %w", err)
	}

	for i, c := range contents {
		if err := d.fetch(ctx, fetcher, task, c); err != nil {
			return err
		}
		if d.onProgress != nil {
			d.onProgress(task, i+1, len(contents))
		}
	}

	if d.marker != nil && task.EntryID != "" {
		if err := d.marker.MarkDownloaded(task.EntryID, task.UnitID); err != nil {
			return fmt.Errorf("unit stored but not recorded: %w", err)
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, fetcher providers.ContentFetcher, task models.DownloadTask, c providers.Content) error {
	rc, err := fetcher.FetchContent(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to fetch content %d: %w", c.Index, err)
	}
	defer rc.Close()

	if err := d.sink.Write(task, c, rc); err != nil {
		return fmt.Errorf("failed to store content %d: %w", c.Index, err)
	}
	return nil
}

// ClearQueue drops every pending task. The task in progress is not interrupted.
func (d *Downloader) ClearQueue() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	d.queue = nil
	return n
}

// Busy reports whether the processing loop is running.
func (d *Downloader) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Pending returns a copy of the tasks waiting behind the one in progress.
func (d *Downloader) Pending() []models.DownloadTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DownloadTask(nil), d.queue...)
}

// Failed returns the number of tasks that failed since the downloader was created.
func (d *Downloader) Failed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// Wait blocks until the queue is empty and the loop is idle.
func (d *Downloader) Wait() {
	d.mu.Lock()
	if !d.busy {
		d.mu.Unlock()
		return
	}
	done := d.done
	d.mu.Unlock()
	<-done
}

// Shutdown clears pending tasks and waits for the task in progress.
//
// If ctx ends first the in-flight task is cancelled and ctx's error returned.
func (d *Downloader) Shutdown(ctx context.Context) error {
	d.ClearQueue()

	d.mu.Lock()
	done := d.done
	busy := d.busy
	d.mu.Unlock()
	if !busy {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
