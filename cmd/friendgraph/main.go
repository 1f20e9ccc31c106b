package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ha1tch/friendgraph/pkg/cache"
	"github.com/ha1tch/friendgraph/pkg/config"
	"github.com/ha1tch/friendgraph/pkg/directory"
	"github.com/ha1tch/friendgraph/pkg/server"
	"github.com/ha1tch/friendgraph/pkg/storage"
	"github.com/ha1tch/friendgraph/pkg/validation"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Setup logger
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Logger().
		Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	printBanner(cfg)

	// Initialize storage
	store, err := storage.NewStore(cfg.StoreType, cfg.StoreConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("type", cfg.StoreType).Msg("Failed to initialize storage")
	}
	defer store.Close()

	if infoProvider, ok := store.(storage.InfoProvider); ok {
		info := infoProvider.Info()
		logger.Info().
			Str("type", info.Type).
			Str("version", info.Version).
			Bool("embedded", info.Embedded).
			Bool("dedupes_edges", info.DedupesEdges).
			Msg("Storage initialized")
	}

	// Initialize cache
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	var cacheInstance cache.Cache
	if cfg.CacheType == "redis" {
		redisCache, err := cache.NewRedisCache(cfg.RedisHost, cfg.RedisPort, ttl)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
			cacheInstance = cache.NewMemoryCache(cfg.CacheSize, ttl)
		} else {
			cacheInstance = redisCache
			logger.Info().Msg("Using Redis cache")
		}
	} else {
		cacheInstance = cache.NewMemoryCache(cfg.CacheSize, ttl)
		logger.Info().Msg("Using in-memory cache")
	}
	defer cacheInstance.Close()

	dir := directory.New(store, cacheInstance, validation.NewStructValidator(), logger, directory.Options{
		StoreTimeout: cfg.StoreTimeout,
		CacheTTL:     ttl,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Only a failed bootstrap is fatal; everything after it returns errors
	if err := dir.Bootstrap(ctx, directory.BootstrapOptions{
		Reset: cfg.ResetOnStart,
		Seed:  cfg.SeedNames,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Bootstrap failed")
	}

	srv := server.New(cfg, dir, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msg("Server ready to accept requests")
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("///////////////////////// friendgraph " + config.Version + " /////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Server Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Host)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  Workers: %d\n", cfg.Workers)
	fmt.Printf("  Request timeout: %s\n", cfg.RequestTimeout)
	fmt.Println()
	fmt.Println("Store Configuration:")
	fmt.Printf("  Type: %s\n", cfg.StoreType)
	switch cfg.StoreType {
	case "dgraph":
		fmt.Printf("  Address: %s\n", cfg.DgraphAddr)
	case "neo4j":
		fmt.Printf("  URI: %s\n", cfg.Neo4jURI)
	default:
		fmt.Printf("  Path: %s\n", cfg.DBPath)
	}
	fmt.Printf("  Call timeout: %s\n", cfg.StoreTimeout)
	fmt.Printf("  Reset on start: %v\n", cfg.ResetOnStart)
	fmt.Printf("  Seed names: %v\n", cfg.SeedNames)
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	fmt.Printf("  TTL: %d seconds\n", cfg.CacheTTL)
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
