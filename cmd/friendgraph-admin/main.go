package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ha1tch/friendgraph/pkg/config"
	"github.com/ha1tch/friendgraph/pkg/directory"
	"github.com/ha1tch/friendgraph/pkg/storage"
	"github.com/ha1tch/friendgraph/pkg/validation"
	"github.com/rs/zerolog"
)

func usage() {
	fmt.Println("Usage: friendgraph-admin <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  reset                                 drop every node and reinstall the schema")
	fmt.Println("  schema                                install the schema")
	fmt.Println("  seed <name>...                        create people that do not exist yet")
	fmt.Println("  copy <src-type> <dst-type> [dst-db]   copy every person between stores")
	fmt.Println("  dump                                  print every person as JSON")
	fmt.Println()
	fmt.Println("Stores are configured as for the server (CONFIG_FILE, environment, .env).")
	fmt.Println("Example: friendgraph-admin copy dgraph sqlite ./friendgraph.db")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "reset":
		err = withStore(cfg, cfg.StoreType, func(store storage.Store) error {
			return storage.Reset(ctx, store)
		})
	case "schema":
		err = withStore(cfg, cfg.StoreType, func(store storage.Store) error {
			return store.Alter(ctx, storage.Operation{Schema: storage.Schema()})
		})
	case "seed":
		err = seed(ctx, cfg, args)
	case "copy":
		err = copyStores(ctx, cfg, args)
	case "dump":
		err = dump(ctx, cfg)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

// withStore opens a store of the given type with the configured options
func withStore(cfg *config.Config, storeType string, fn func(storage.Store) error) error {
	c := *cfg
	c.StoreType = storeType

	store, err := storage.NewStore(storeType, c.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", storeType, err)
	}
	defer store.Close()

	return fn(store)
}

func newDirectory(cfg *config.Config, store storage.Store) *directory.Directory {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	return directory.New(store, nil, validation.NewStructValidator(), logger, directory.Options{
		StoreTimeout: cfg.StoreTimeout,
	})
}

func seed(ctx context.Context, cfg *config.Config, names []string) error {
	if len(names) == 0 {
		names = cfg.SeedNames
	}
	return withStore(cfg, cfg.StoreType, func(store storage.Store) error {
		dir := newDirectory(cfg, store)
		for _, name := range names {
			uid, err := dir.Ensure(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to seed %q: %w", name, err)
			}
			fmt.Printf("%s\t%s\n", uid, name)
		}
		return nil
	})
}

func copyStores(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("copy needs a source and a target store type")
	}
	srcType, dstType := args[0], args[1]

	dstCfg := *cfg
	if len(args) > 2 {
		dstCfg.DBPath = args[2]
	}
	if srcType == dstType && srcType == "sqlite" && dstCfg.DBPath == cfg.DBPath {
		return fmt.Errorf("source and target are the same database: %s", cfg.DBPath)
	}

	return withStore(cfg, srcType, func(src storage.Store) error {
		return withStore(&dstCfg, dstType, func(dst storage.Store) error {
			fmt.Printf("Copying %s -> %s...\n", srcType, dstType)
			stats, err := directory.Copy(ctx, src, dst)
			if err != nil {
				return err
			}

			fmt.Printf("\nCopy summary:\n")
			fmt.Printf("  People: %d\n", stats.People)
			fmt.Printf("  Friend edges: %d\n", stats.Edges)
			if stats.Dangling > 0 {
				fmt.Printf("  Dangling references kept as is: %d\n", stats.Dangling)
			}
			return nil
		})
	})
}

func dump(ctx context.Context, cfg *config.Config) error {
	return withStore(cfg, cfg.StoreType, func(store storage.Store) error {
		people, err := newDirectory(cfg, store).People(ctx, "")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(people)
	})
}
