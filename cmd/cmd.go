// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

// setupCommand handles setup operations for the configuration file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create the config file if missing, initialize the database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:   "migrations",
				Usage:  "Show which migrations have been applied",
				Action: r.SetupMigrations,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the latest applied migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles tracker authentication
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the AniList login",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize with AniList in the browser and store the token",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show the logged in AniList user",
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Remove the stored token",
				Action: r.AuthLogout,
			},
		},
	}
}

// sourcesCommand handles content provider operations
func sourcesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "sources",
		Aliases: []string{"src"},
		Usage:   "Browse registered content sources",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered sources and their capabilities",
				Flags:  jsonFlags(),
				Action: r.SourcesList,
			},
			{
				Name:  "search",
				Usage: "Search a source's catalog",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "source"},
					&cli.StringArg{Name: "query"},
				},
				Flags: append(jsonFlags(),
					&cli.IntFlag{
						Name:  "page",
						Usage: "Result page, starting at 1",
						Value: 1,
					},
				),
				Action: r.SourcesSearch,
			},
			{
				Name:  "info",
				Usage: "Show details of a catalog item",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "source"},
					&cli.StringArg{Name: "item"},
				},
				Flags:  jsonFlags(),
				Action: r.SourcesInfo,
			},
			{
				Name:  "units",
				Usage: "List the episodes or chapters of a catalog item, newest first",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "source"},
					&cli.StringArg{Name: "item"},
				},
				Flags:  jsonFlags(),
				Action: r.SourcesUnits,
			},
		},
	}
}

// libraryCommand handles local progress entries
func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "library",
		Aliases: []string{"lib"},
		Usage:   "Manage local progress entries",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List library entries",
				Flags: append(jsonFlags(),
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only list anime or manga",
					},
					&cli.BoolFlag{
						Name:  "unsynced",
						Usage: "Only list entries with local changes",
					},
				),
				Action: r.LibraryList,
			},
			{
				Name:  "update",
				Usage: "Create or update an entry and push it to the tracker",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "anime or manga (required for new entries)"},
					&cli.StringFlag{Name: "title", Usage: "Entry title"},
					&cli.IntFlag{Name: "progress", Aliases: []string{"p"}, Usage: "Episodes watched or chapters read"},
					&cli.IntFlag{Name: "total", Usage: "Total episodes or chapters"},
					&cli.IntFlag{Name: "season", Usage: "Season number"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "active, completed, paused, dropped or planned"},
					&cli.IntFlag{Name: "remote-id", Usage: "AniList media id"},
					&cli.StringFlag{Name: "source", Usage: "Content source id"},
					&cli.StringFlag{Name: "item", Usage: "Item id at the content source"},
					&cli.StringFlag{Name: "cover", Usage: "Cover image URL"},
					&cli.BoolFlag{Name: "push", Usage: "Push the change immediately", Value: true},
				},
				Action: r.LibraryUpdate,
			},
			{
				Name:  "link",
				Usage: "Link an entry to an AniList media id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
					&cli.StringArg{Name: "remote-id"},
				},
				Action: r.LibraryLink,
			},
			{
				Name:  "remove",
				Usage: "Delete an entry",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.LibraryRemove,
			},
			{
				Name:  "export",
				Usage: "Export the library to CSV, Markdown, text or JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "csv, md, txt or json",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (directory for Markdown)",
					},
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only export anime or manga",
					},
					&cli.BoolFlag{
						Name:  "covers",
						Usage: "Download cover images (Markdown only)",
					},
				},
				Action: r.LibraryExport,
			},
			{
				Name:  "updates",
				Usage: "Check content sources for units past each entry's progress",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent workers (max 8)",
						Value: 4,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Provider requests per second",
						Value: 2,
					},
					&cli.BoolFlag{
						Name:  "download",
						Usage: "Download every new unit found",
					},
				},
				Action: r.LibraryUpdates,
			},
		},
	}
}

// syncCommand handles tracker synchronization
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize progress with AniList",
		Commands: []*cli.Command{
			{
				Name:   "push",
				Usage:  "Push every unsynced, linked entry",
				Action: r.SyncPush,
			},
			{
				Name:   "pull",
				Usage:  "Pull remote progress into the library",
				Action: r.SyncPull,
			},
			{
				Name:   "status",
				Usage:  "Show pending changes, the offline queue and recent passes",
				Flags:  jsonFlags(),
				Action: r.SyncStatus,
			},
			{
				Name:  "log",
				Usage: "Show recorded push, pull and drain passes",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of passes to show",
						Value: 20,
					},
					&cli.DurationFlag{
						Name:  "prune",
						Usage: "Delete passes older than this before listing",
					},
				},
				Action: r.SyncLog,
			},
			{
				Name:  "daemon",
				Usage: "Run scheduled pushes and replay the offline queue when connectivity returns",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Push interval (defaults to sync.interval)",
					},
					&cli.StringFlag{
						Name:  "status-addr",
						Usage: "Serve GET /status on this address, e.g. localhost:3001",
					},
					&cli.BoolFlag{
						Name:  "pull",
						Usage: "Pull remote progress once at startup after pushing",
					},
				},
				Action: r.SyncDaemon,
			},
		},
	}
}

// queueCommand handles the offline mutation queue
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and replay the offline mutation queue",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List queued mutations in replay order",
				Flags:  jsonFlags(),
				Action: r.QueueList,
			},
			{
				Name:   "drain",
				Usage:  "Replay queued mutations now",
				Action: r.QueueDrain,
			},
			{
				Name:   "dead",
				Usage:  "List dead-lettered mutations",
				Flags:  jsonFlags(),
				Action: r.QueueDead,
			},
			{
				Name:  "requeue",
				Usage: "Move a dead-lettered mutation back into the queue",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.QueueRequeue,
			},
			{
				Name:   "purge",
				Usage:  "Delete every dead-lettered mutation",
				Action: r.QueuePurge,
			},
		},
	}
}

// downloadCommand downloads units of a library entry
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Download units of a library entry from its content source",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "unit",
				Aliases: []string{"u"},
				Usage:   "Unit id to download (repeatable)",
			},
			&cli.FloatFlag{
				Name:  "from",
				Usage: "Lowest unit number to download",
			},
			&cli.FloatFlag{
				Name:  "to",
				Usage: "Highest unit number to download",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Download every unit, including ones already read or downloaded",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Download directory (defaults to downloads.dir)",
			},
		},
		Action: r.Download,
	}
}
