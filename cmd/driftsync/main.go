package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/driftmc/driftsync/pkg/codec"
	"github.com/driftmc/driftsync/pkg/config"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/repositories"
	"github.com/driftmc/driftsync/pkg/version"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	migrate := flag.Bool("migrate", false, "Apply schema migrations and exit")
	register := flag.Bool("register", false, "Register this server in the registry and exit")
	master := flag.Bool("master", false, "Register as the master server (with -register)")
	inspect := flag.String("inspect", "", "Print the stored rows for a player UUID and exit")
	purge := flag.String("purge", "", "Delete this server's rows for a player UUID and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load config: %v", err))
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)

	log.Info("driftsync %s", version.Get())
	ctx := context.Background()

	// DATABASE_URL switches to postgres regardless of the config file.
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = connStr
	}

	repository := openRepository(ctx, cfg, *migrate)
	defer repository.Close(ctx)

	switch {
	case *migrate:
		// openRepository already applied them.
		log.Info("migrations applied")
	case *register:
		if err := repository.UpsertServerRegistry(ctx, cfg.ServerName, *master); err != nil {
			panic(fmt.Sprintf("Failed to register server: %v", err))
		}
		log.Info("registered server %s (master=%t)", cfg.ServerName, *master)
	case *inspect != "":
		id, err := uuid.Parse(*inspect)
		if err != nil {
			panic(fmt.Sprintf("Invalid player UUID: %v", err))
		}
		inspectPlayer(ctx, repository, cfg.ServerName, id)
	case *purge != "":
		id, err := uuid.Parse(*purge)
		if err != nil {
			panic(fmt.Sprintf("Invalid player UUID: %v", err))
		}
		purgePlayer(ctx, repository, cfg.ServerName, id)
	default:
		flag.Usage()
	}
}

func openRepository(ctx context.Context, cfg config.Config, migrate bool) repositories.Repository {
	switch cfg.Database.Driver {
	case "postgres":
		repository := repositories.NewPostgresRepository(ctx, cfg.Database.DSN)
		if migrate {
			pg, ok := repository.(*repositories.PostgresRepository)
			if !ok {
				panic("unexpected repository type")
			}
			if err := pg.Migrate(ctx, cfg.Database.MigrationsDir); err != nil {
				panic(fmt.Sprintf("Failed to migrate: %v", err))
			}
		}
		return repository
	case "sqlite":
		repository, err := repositories.NewSQLiteRepository(ctx, cfg.Database.Path, cfg.Database.MigrationsDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		return repository
	default:
		panic(fmt.Sprintf("Unknown database driver %q", cfg.Database.Driver))
	}
}

// purgePlayer removes the per-server rows only. The global user row
// survives so the balance and name are kept across servers.
func purgePlayer(ctx context.Context, repository repositories.Repository, serverName string, id uuid.UUID) {
	removed, err := repository.DeleteUserState(ctx, id, serverName)
	if err != nil {
		panic(fmt.Sprintf("Failed to delete state: %v", err))
	}
	fmt.Printf("state row on %s: removed=%t\n", serverName, removed)

	removed, err = repository.DeleteServerProfile(ctx, id, serverName)
	if err != nil {
		panic(fmt.Sprintf("Failed to delete profile: %v", err))
	}
	fmt.Printf("profile row on %s: removed=%t\n", serverName, removed)
}

func inspectPlayer(ctx context.Context, repository repositories.Repository, serverName string, id uuid.UUID) {
	user, err := repository.GetGlobalUser(ctx, id)
	switch {
	case repositories.IsNotFound(err):
		fmt.Printf("no global user row for %s\n", id)
	case err != nil:
		panic(fmt.Sprintf("Failed to load global user: %v", err))
	default:
		fmt.Printf("user: %s balance=%.2f last_update=%d\n", user.Name, user.Balance, user.LastUpdate)
	}

	servers, err := repository.ListUserStateServers(ctx, id)
	if err != nil {
		panic(fmt.Sprintf("Failed to list servers: %v", err))
	}
	fmt.Printf("state rows on %d server(s): %v\n", len(servers), servers)

	state, err := repository.GetUserState(ctx, id, serverName)
	switch {
	case repositories.IsNotFound(err):
		fmt.Printf("no state row on %s\n", serverName)
	case err != nil:
		panic(fmt.Sprintf("Failed to load state: %v", err))
	default:
		fmt.Printf("state on %s: xp=%d/%d health=%.1f food=%d mode=%s last_update=%d\n",
			serverName, state.XP.Level, state.XP.Total,
			state.Vitals.Health, state.Vitals.Food, state.Meta.GameMode, state.LastUpdate)
	}

	profile, err := repository.GetServerProfile(ctx, id, serverName)
	switch {
	case repositories.IsNotFound(err):
		fmt.Printf("no profile row on %s\n", serverName)
	case err != nil:
		panic(fmt.Sprintf("Failed to load profile: %v", err))
	default:
		homes, decErr := codec.DecodeHomes(profile.Homes)
		homeCount := len(homes)
		if decErr != nil {
			homeCount = -1
		}
		fmt.Printf("profile on %s: group=%q last_location=%q homes=%d last_update=%d\n",
			serverName, profile.GroupName, profile.LastLocation, homeCount, profile.LastUpdate)
	}
}
