package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/network"
	"github.com/desertthunder/tsundoku/internal/notify"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/repositories"
	"github.com/desertthunder/tsundoku/internal/services"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage-backed services are built on first use so commands that only talk to providers or the tracker never
// open the database.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	tracker  services.Tracker
	anilist  *services.AniListService
	monitor  *network.Monitor
	notifier notify.Notifier

	registryOnce sync.Once
	registry     *providers.Registry

	openOnce  sync.Once
	openErr   error
	db        *sql.DB
	ownsDB    bool
	storage   repositories.Storage
	library   *repositories.LibraryRepository
	mutations *repositories.MutationRepository
	synclog   *repositories.SyncLogRepository
	queue     *tasks.MutationQueue
	engine    *tasks.SyncEngine
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Every dependency is optional; missing ones are built from Config.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer

	DB       *sql.DB
	Storage  repositories.Storage
	Registry *providers.Registry
	Tracker  services.Tracker
	Monitor  *network.Monitor
	Notifier notify.Notifier
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		storage:    opts.Storage,
		registry:   opts.Registry,
		tracker:    opts.Tracker,
		monitor:    opts.Monitor,
		notifier:   opts.Notifier,
	}

	if r.tracker == nil {
		r.anilist = services.NewAniListService(services.AniListConfigFrom(r.config.Tracker))
		r.tracker = r.anilist
	} else if a, ok := r.tracker.(*services.AniListService); ok {
		r.anilist = a
	}

	if r.monitor == nil {
		r.monitor = network.NewMonitor(true,
			network.WithProbe(r.config.Network.ProbeURL, r.config.Network.ProbeInterval.Duration),
			network.WithLogger(r.logger),
		)
	}

	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, sourcesCommand, libraryCommand, syncCommand, queueCommand, downloadCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// sources returns the provider registry, bootstrapping the built-in local provider and configured manifests once.
func (r *Runner) sources() *providers.Registry {
	r.registryOnce.Do(func() {
		if r.registry != nil {
			return
		}
		r.registry = providers.NewRegistry(r.logger)
		r.registry.Bootstrap(
			[]providers.Provider{providers.NewLocalProvider(r.config.Providers.LocalRoot)},
			r.config.Providers.ManifestDir,
		)
	})
	return r.registry
}

// open builds the storage-backed services on first use.
func (r *Runner) open() error {
	r.openOnce.Do(func() { r.openErr = r.init() })
	return r.openErr
}

func (r *Runner) init() error {
	if r.storage == nil {
		if r.db == nil {
			r.logger.Debug("opening database", "path", r.config.Database.Path)
			db, err := shared.OpenDatabase(r.config.Database)
			if err != nil {
				return fmt.Errorf("failed to open database (run 'tsundoku setup database' first?): %w", err)
			}
			r.db = db
			r.ownsDB = true
		}
		r.storage = repositories.NewSQLiteStorage(r.db)
	}

	var recorder tasks.PassRecorder
	if r.db != nil {
		r.synclog = repositories.NewSyncLogRepository(r.db)
		recorder = r.synclog
	}

	if r.notifier == nil {
		r.notifier = notify.NewLogNotifier(r.logger)
	}

	r.library = repositories.NewLibraryRepository(r.storage)
	r.mutations = repositories.NewMutationRepository(r.storage, r.config.Queue.MaxItems)

	r.queue = tasks.NewMutationQueue(r.mutations, r.monitor, r.logger)
	r.queue.SetRecorder(recorder)
	r.queue.SetDeadLetterPermanent(r.config.Queue.DeadLetterPermanent)

	r.engine = tasks.NewSyncEngine(r.library, r.tracker, r.queue, tasks.EngineConfig{
		ItemDelay: r.config.Sync.ItemDelay.Duration,
		Notifier:  r.notifier,
		Recorder:  recorder,
		Logger:    r.logger,
	})
	r.engine.RegisterProcessors(r.queue)
	return nil
}

// Close releases the database opened by the runner.
func (r *Runner) Close() error {
	if r.ownsDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// findEntry resolves a full entry id or a unique id prefix, as printed by 'library list'.
func (r *Runner) findEntry(ref string) (models.LibraryEntry, error) {
	if ref == "" {
		return models.LibraryEntry{}, fmt.Errorf("%w: entry id", shared.ErrMissingArgument)
	}

	entry, err := r.library.Get(ref)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, shared.ErrEntryNotFound) {
		return models.LibraryEntry{}, err
	}

	entries, err := r.library.List("")
	if err != nil {
		return models.LibraryEntry{}, err
	}

	var matches []models.LibraryEntry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, ref) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return models.LibraryEntry{}, fmt.Errorf("%w: %s", shared.ErrEntryNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return models.LibraryEntry{}, fmt.Errorf("%w: %q matches %d entries", shared.ErrInvalidArgument, ref, len(matches))
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
