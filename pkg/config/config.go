package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"
)

const Version = "0.3.0"

// Config holds application configuration
type Config struct {
	// Server configuration
	Host           string
	Port           int
	Workers        int           // concurrent API requests
	RequestTimeout time.Duration // per request

	// Storage configuration
	StoreType     string // "sqlite", "dgraph" or "neo4j"
	DBPath        string // SQLite database path
	DgraphAddr    string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	StoreTimeout  time.Duration // per store call

	// Bootstrap
	ResetOnStart bool
	SeedNames    []string

	// Cache configuration
	CacheType string // "memory" or "redis"
	CacheTTL  int    // seconds
	CacheSize int
	RedisHost string
	RedisPort int

	// Debug
	Debug bool
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8081,
		Workers:        4,
		RequestTimeout: 30 * time.Second,
		StoreType:      "sqlite",
		DBPath:         "friendgraph.db",
		DgraphAddr:     "localhost:9080",
		Neo4jURI:       "neo4j://localhost:7687",
		Neo4jUser:      "neo4j",
		StoreTimeout:   10 * time.Second,
		ResetOnStart:   false,
		SeedNames:      []string{"Joshua", "Pronsh", "Justin"},
		CacheType:      "memory",
		CacheTTL:       60,
		CacheSize:      256,
		RedisHost:      "localhost",
		RedisPort:      6379,
		Debug:          false,
	}
}

// fileConfig is the HCL file layout. Every attribute is optional and
// only overrides the defaults when present.
type fileConfig struct {
	Host           *string  `hcl:"host,optional"`
	Port           *int     `hcl:"port,optional"`
	Workers        *int     `hcl:"workers,optional"`
	RequestTimeout *string  `hcl:"request_timeout,optional"`
	StoreType      *string  `hcl:"store_type,optional"`
	DBPath         *string  `hcl:"db_path,optional"`
	DgraphAddr     *string  `hcl:"dgraph_addr,optional"`
	Neo4jURI       *string  `hcl:"neo4j_uri,optional"`
	Neo4jUser      *string  `hcl:"neo4j_user,optional"`
	Neo4jPassword  *string  `hcl:"neo4j_password,optional"`
	StoreTimeout   *string  `hcl:"store_timeout,optional"`
	ResetOnStart   *bool    `hcl:"reset_on_start,optional"`
	SeedNames      []string `hcl:"seed_names,optional"`
	CacheType      *string  `hcl:"cache_type,optional"`
	CacheTTL       *int     `hcl:"cache_ttl,optional"`
	CacheSize      *int     `hcl:"cache_size,optional"`
	RedisHost      *string  `hcl:"redis_host,optional"`
	RedisPort      *int     `hcl:"redis_port,optional"`
	Debug          *bool    `hcl:"debug,optional"`
}

// Load builds the configuration: defaults, then the HCL file named by
// CONFIG_FILE, then the environment (including a .env file when present)
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile applies an HCL (or HCL-JSON) configuration file
func LoadFile(cfg *Config, path string) error {
	var fc fileConfig
	if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	setString(&cfg.Host, fc.Host)
	setInt(&cfg.Port, fc.Port)
	setInt(&cfg.Workers, fc.Workers)
	setString(&cfg.StoreType, fc.StoreType)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.DgraphAddr, fc.DgraphAddr)
	setString(&cfg.Neo4jURI, fc.Neo4jURI)
	setString(&cfg.Neo4jUser, fc.Neo4jUser)
	setString(&cfg.Neo4jPassword, fc.Neo4jPassword)
	setString(&cfg.CacheType, fc.CacheType)
	setInt(&cfg.CacheTTL, fc.CacheTTL)
	setInt(&cfg.CacheSize, fc.CacheSize)
	setString(&cfg.RedisHost, fc.RedisHost)
	setInt(&cfg.RedisPort, fc.RedisPort)
	if fc.ResetOnStart != nil {
		cfg.ResetOnStart = *fc.ResetOnStart
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.SeedNames != nil {
		cfg.SeedNames = fc.SeedNames
	}

	for _, d := range []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"store_timeout", fc.StoreTimeout, &cfg.StoreTimeout},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config file %s: invalid %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Workers = n
		}
	}
	if val := os.Getenv("REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if val := os.Getenv("STORE_TYPE"); val != "" {
		cfg.StoreType = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := os.Getenv("DGRAPH_ADDR"); val != "" {
		cfg.DgraphAddr = val
	}
	if val := os.Getenv("NEO4J_URI"); val != "" {
		cfg.Neo4jURI = val
	}
	if val := os.Getenv("NEO4J_USER"); val != "" {
		cfg.Neo4jUser = val
	}
	if val := os.Getenv("NEO4J_PASSWORD"); val != "" {
		cfg.Neo4jPassword = val
	}
	if val := os.Getenv("STORE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.StoreTimeout = d
		}
	}
	if val := os.Getenv("RESET_ON_START"); val != "" {
		cfg.ResetOnStart = parseBool(val)
	}
	if val, ok := os.LookupEnv("SEED_NAMES"); ok {
		cfg.SeedNames = parseList(val)
	}
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := os.Getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.CacheSize = size
		}
	}
	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.StoreType {
	case "sqlite", "dgraph", "neo4j":
	default:
		return fmt.Errorf("unknown store type %q", c.StoreType)
	}
	switch c.CacheType {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", c.CacheType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.RequestTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig returns the factory options for the configured store
func (c *Config) StoreConfig() map[string]interface{} {
	switch c.StoreType {
	case "dgraph":
		return map[string]interface{}{"addr": c.DgraphAddr}
	case "neo4j":
		return map[string]interface{}{
			"uri":      c.Neo4jURI,
			"user":     c.Neo4jUser,
			"password": c.Neo4jPassword,
		}
	default:
		return map[string]interface{}{"db_path": c.DBPath}
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}

func parseList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
