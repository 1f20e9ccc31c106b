package storage

import (
	"fmt"
	"sort"
	"sync"
)

// StoreFactory is a function that creates a new Store instance
type StoreFactory func(config map[string]interface{}) (Store, error)

var (
	storeMu       sync.RWMutex
	storeRegistry = make(map[string]StoreFactory)
)

// RegisterStore registers a new store implementation
func RegisterStore(name string, factory StoreFactory) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storeRegistry[name] = factory
}

// NewStore creates a new store instance by name
func NewStore(name string, config map[string]interface{}) (Store, error) {
	storeMu.RLock()
	factory, exists := storeRegistry[name]
	storeMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown store type: %s", name)
	}

	return factory(config)
}

// ListStores returns all registered store types
func ListStores() []string {
	storeMu.RLock()
	defer storeMu.RUnlock()

	stores := make([]string, 0, len(storeRegistry))
	for name := range storeRegistry {
		stores = append(stores, name)
	}
	sort.Strings(stores)
	return stores
}

// init registers built-in stores
func init() {
	RegisterStore("sqlite", func(config map[string]interface{}) (Store, error) {
		dbPath, ok := config["db_path"].(string)
		if !ok {
			dbPath = "friendgraph.db"
		}

		sqliteConfig := SQLiteConfig{
			DBPath:      dbPath,
			EnableWAL:   true,
			CacheSize:   2000, // 2MB
			BusyTimeout: 5000, // 5 seconds
		}

		if wal, ok := config["enable_wal"].(bool); ok {
			sqliteConfig.EnableWAL = wal
		}
		if cache, ok := config["cache_size"].(int); ok {
			sqliteConfig.CacheSize = cache
		}
		if timeout, ok := config["busy_timeout"].(int); ok {
			sqliteConfig.BusyTimeout = timeout
		}

		return NewSQLiteStore(sqliteConfig)
	})

	RegisterStore("dgraph", func(config map[string]interface{}) (Store, error) {
		addr, ok := config["addr"].(string)
		if !ok {
			addr = "localhost:9080"
		}
		return NewDgraphStore(addr)
	})

	RegisterStore("neo4j", func(config map[string]interface{}) (Store, error) {
		uri, ok := config["uri"].(string)
		if !ok {
			uri = "bolt://localhost:7687"
		}
		user, _ := config["user"].(string)
		password, _ := config["password"].(string)
		return NewNeo4jStore(uri, user, password)
	})
}
