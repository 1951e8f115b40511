package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/stratos/moderation"
	"github.com/bluesky-social/stratos/moderation/ownerstore"
	"github.com/bluesky-social/stratos/moderation/scenarios"
	"github.com/bluesky-social/stratos/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "stratos",
		Usage:   "moderation ledger and display directive daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for the moderation ledger",
			Value:   "sqlite://data/stratos/stratos.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"STRATOS_ENABLE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"STRATOS_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			EnvVars: []string{"STRATOS_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
		scenariosCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

func openDatabase(cctx *cli.Context, logger *slog.Logger) (*gorm.DB, error) {
	logger.Info("setting up database")
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	if cctx.Bool("enable-db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := moderation.NewLedger(db, nil).Migrate(); err != nil {
		return fmt.Errorf("migrating moderation ledger: %w", err)
	}
	if err := ownerstore.NewDBOwnerStore(db).Migrate(); err != nil {
		return fmt.Errorf("migrating blob owners: %w", err)
	}
	return nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3600",
			EnvVars: []string{"STRATOS_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3601",
			EnvVars: []string{"STRATOS_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "admin-password",
			Usage:    "secret password/token for accessing admin endpoints",
			Required: true,
			EnvVars:  []string{"STRATOS_ADMIN_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the shared blob owner cache (optional)",
			EnvVars: []string{"STRATOS_REDIS_URL"},
		},
		&cli.DurationFlag{
			Name:    "resolve-timeout",
			Usage:   "upper bound on a single directive resolution",
			Value:   2 * time.Second,
			EnvVars: []string{"STRATOS_RESOLVE_TIMEOUT"},
		},
		&cli.Float64Flag{
			Name:    "report-rate-limit",
			Usage:   "max reports accepted per second, across all reporters (0 for no limit)",
			Value:   0,
			EnvVars: []string{"STRATOS_REPORT_RATE_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "owner-cache-size",
			Usage:   "number of blob owners kept in the in-process cache",
			Value:   100_000,
			EnvVars: []string{"STRATOS_OWNER_CACHE_SIZE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := cliutil.ConfigOTEL(ctx, "stratos")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}

		var owners ownerstore.OwnerStore = ownerstore.NewDBOwnerStore(db)
		if redisURL := cctx.String("redis-url"); redisURL != "" {
			rstore, err := ownerstore.NewRedisOwnerStore(owners, redisURL, 24*time.Hour, 5*time.Minute, 10_000)
			if err != nil {
				return err
			}
			owners = rstore
		}
		owners = ownerstore.NewCacheOwnerStore(owners, cctx.Int("owner-cache-size"), time.Hour, time.Minute)

		srv, err := NewServer(db, owners, Config{
			Logger:          logger,
			Bind:            cctx.String("bind"),
			AdminPassword:   cctx.String("admin-password"),
			ResolveTimeout:  cctx.Duration("resolve-timeout"),
			ReportRateLimit: cctx.Float64("report-rate-limit"),
		})
		if err != nil {
			return err
		}

		if err := srv.Run(ctx, cctx.String("metrics-listen")); err != nil {
			return fmt.Errorf("failed to run stratos service: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables, then exit",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		logger.Info("migration complete")
		return nil
	},
}

var scenariosCmd = &cli.Command{
	Name:  "scenarios",
	Usage: "run the built-in moderation behavior scenarios against an in-memory ledger, and print the results",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		// keep the listing readable
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		all, err := scenarios.Load()
		if err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		ledger := moderation.NewLedger(db, logger)
		owners := ownerstore.NewDBOwnerStore(db)
		engine := moderation.NewEngine(ledger, &moderation.SubjectHierarchy{Owners: owners, Logger: logger}, logger, 0)

		tree := treeprint.NewWithRoot("moderation scenarios")
		failed := 0
		for _, s := range all {
			fix, err := s.Apply(ctx, ledger, owners)
			if err != nil {
				return err
			}
			status := "ok"
			if err := s.Check(ctx, engine, fix); err != nil {
				failed++
				status = "FAIL"
				logger.Warn("scenario mismatch", "err", err)
			}
			branch := tree.AddMetaBranch(status, s.Title)
			actions := branch.AddBranch("actions")
			if len(s.Actions) == 0 {
				actions.AddNode("(none)")
			}
			for _, a := range s.Actions {
				label := fmt.Sprintf("%s on %s", a.Kind, a.On)
				if a.Reversed {
					label += " (reversed)"
				}
				actions.AddNode(label)
			}
			entities := s.Entities
			if len(entities) == 0 {
				entities = moderation.DefaultEntities(s.Subject)
			}
			viewed := branch.AddBranch(fmt.Sprintf("viewing %s", s.Subject))
			for _, ent := range entities {
				viewed.AddMetaNode(ent, scenarios.Describe(s.Behaviors.Get(ent)))
			}
		}
		fmt.Println(tree.String())
		if failed > 0 {
			return fmt.Errorf("%d of %d scenarios failed", failed, len(all))
		}
		return nil
	},
}
