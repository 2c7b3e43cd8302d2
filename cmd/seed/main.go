// Command seed loads YAML fixtures into the configured store through the
// data client. Rows are inserted entity by entity in dependency order so
// foreign keys resolve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"agencydb/internal/auth"
	"agencydb/internal/client"
	"agencydb/internal/config"
	"agencydb/internal/engine"
	"agencydb/internal/store"
	"agencydb/internal/store/bunt"
	"agencydb/internal/store/memory"
	"agencydb/internal/store/postgres"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// seedOrder lists entities parents-first so FK references resolve.
var seedOrder = []string{
	"user",
	"notificationPreferences",
	"client",
	"contact",
	"project",
	"task",
	"timesheet",
	"calendarEvent",
	"activityLog",
}

func main() {
	file := flag.String("file", "seed.yaml", "fixture file to load")
	wipe := flag.Bool("wipe", false, "delete existing rows before seeding")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}))

	if *wipe && cfg.Environment == "prod" {
		log.Fatal("refusing to wipe a prod environment")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	eng := engine.New(st, logger, store.TxOptions{
		MaxWait: cfg.TxMaxWait,
		Timeout: cfg.TxTimeout,
	})
	dataClient := client.New(eng)

	fixtures, err := loadFixtures(*file)
	if err != nil {
		log.Fatalf("Failed to load fixtures: %v", err)
	}

	if *wipe {
		// Reverse dependency order so children go first
		for i := len(seedOrder) - 1; i >= 0; i-- {
			entity := seedOrder[i]
			n, err := eng.DeleteMany(ctx, entity, nil, 0)
			if err != nil {
				log.Fatalf("Failed to wipe %s: %v", entity, err)
			}
			logger.Info("wiped", "entity", entity, "count", n)
		}
	}

	// One transaction per run keeps a broken fixture file from half-seeding
	err = dataClient.Transaction(ctx, store.TxOptions{}, func(ctx context.Context) error {
		for _, entity := range seedOrder {
			rows := fixtures[entity]
			if len(rows) == 0 {
				continue
			}
			if entity == "user" {
				if err := hashPasswords(rows); err != nil {
					return err
				}
			}
			n, err := eng.CreateMany(ctx, entity, rows, true)
			if err != nil {
				return fmt.Errorf("seeding %s: %w", entity, err)
			}
			logger.Info("seeded", "entity", entity, "count", n)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Seed failed: %v", err)
	}

	logger.Info("seed complete")
}

func loadFixtures(path string) (map[string][]store.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fixtures map[string][]store.Record
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for entity := range fixtures {
		found := false
		for _, known := range seedOrder {
			if entity == known {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown entity %q in %s", entity, path)
		}
	}
	return fixtures, nil
}

func hashPasswords(rows []store.Record) error {
	for _, row := range rows {
		raw, ok := row["password"].(string)
		if !ok || raw == "" {
			continue
		}
		hashed, err := auth.HashPassword(raw)
		if err != nil {
			return err
		}
		row["password"] = hashed
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return postgres.Open(ctx, postgres.Options{
			DatabaseURL: cfg.DatabaseURL,
			TablePrefix: cfg.TablePrefix,
			MaxWait:     cfg.TxMaxWait,
			Timeout:     cfg.TxTimeout,
			Logger:      logger,
		})
	case "bunt":
		return bunt.Open(bunt.Options{
			Path:    cfg.BuntPath,
			MaxWait: cfg.TxMaxWait,
			Timeout: cfg.TxTimeout,
		})
	default:
		return memory.New(memory.Options{
			MaxWait: cfg.TxMaxWait,
			Timeout: cfg.TxTimeout,
		}), nil
	}
}
