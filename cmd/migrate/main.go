package main

import (
	"errors"
	"flag"
	"log"

	"meeting-live/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("dir", "db/migrations", "migrations directory")
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if cfg.DBDriver != "" && cfg.DBDriver != "postgres" {
		log.Fatalf("sql migrations target postgres; DB_DRIVER=%s uses auto-migration at startup", cfg.DBDriver)
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("migration setup failed: %v", err)
	}
	defer m.Close()

	if *down > 0 {
		if err := m.Steps(-*down); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("database rollback failed: %v", err)
		}
		log.Printf("rolled back %d migrations", *down)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("database migration failed: %v", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatalf("read migration version: %v", err)
	}
	log.Printf("database migrations applied version=%d dirty=%t", version, dirty)
}
