package main

import (
	"flag"
	"fmt"
	"log"

	"fundarb/internal/config"
	"fundarb/internal/database"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "configuration file path")
		path       = flag.String("path", "migrations", "migrations directory")
		up         = flag.Bool("up", false, "apply pending migrations")
		down       = flag.Bool("down", false, "roll back all migrations")
		version    = flag.Bool("version", false, "print the current migration version")
		force      = flag.Int("force", -1, "force the migration version (repairs a dirty state)")
		drop       = flag.Bool("drop", false, "drop all tables")
		help       = flag.Bool("help", false, "show usage")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplySecretOverrides(config.NewEnvManager("", ""))

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, *path)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch {
	case *up:
		runUp(migrator)
	case *down:
		runDown(migrator)
	case *version:
		showVersion(migrator)
	case *force >= 0:
		forceVersion(migrator, *force)
	case *drop:
		dropAll(migrator)
	default:
		runUp(migrator)
	}
}

func showHelp() {
	fmt.Println("fundarb database migration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string   configuration file path (default: configs/config.yaml)")
	fmt.Println("  -path string     migrations directory (default: migrations)")
	fmt.Println("  -up              apply pending migrations (default action)")
	fmt.Println("  -down            roll back all migrations")
	fmt.Println("  -version         print the current migration version")
	fmt.Println("  -force int       force the migration version (repairs a dirty state)")
	fmt.Println("  -drop            drop all tables")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  migrate -up")
	fmt.Println("  migrate -version")
	fmt.Println("  migrate -force 2")
	fmt.Println("  migrate -config configs/production.yaml -up")
}

func runUp(migrator *database.Migrator) {
	log.Println("Applying migrations...")
	if err := migrator.Up(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}

func runDown(migrator *database.Migrator) {
	log.Println("Rolling back migrations...")
	if err := migrator.Down(); err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}
	log.Println("Migrations rolled back")
}

func showVersion(migrator *database.Migrator) {
	version, err := migrator.Version()
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Current migration version: %d\n", version)
}

func forceVersion(migrator *database.Migrator, version int) {
	log.Printf("Forcing migration version to %d", version)
	if err := migrator.Force(version); err != nil {
		log.Fatalf("Failed to force migration version: %v", err)
	}
	log.Println("Migration version set")
}

func dropAll(migrator *database.Migrator) {
	log.Println("Dropping all tables...")
	if err := migrator.Drop(); err != nil {
		log.Fatalf("Drop failed: %v", err)
	}
	log.Println("Tables dropped")
}
