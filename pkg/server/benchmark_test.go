package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ha1tch/friendgraph/pkg/cache"
	"github.com/ha1tch/friendgraph/pkg/config"
	"github.com/ha1tch/friendgraph/pkg/directory"
	"github.com/ha1tch/friendgraph/pkg/server"
	"github.com/ha1tch/friendgraph/pkg/storage"
	"github.com/ha1tch/friendgraph/pkg/validation"
	"github.com/rs/zerolog"
)

// setupBenchServer creates a bootstrapped server for benchmarking
func setupBenchServer(b *testing.B) (*httptest.Server, *config.Config) {
	b.Helper()

	tmpFile, err := os.CreateTemp("", "friendgraph-bench-*.db")
	if err != nil {
		b.Fatal(err)
	}
	tmpFile.Close()

	cfg := config.Default()
	cfg.DBPath = tmpFile.Name()
	cfg.Workers = 64

	store, err := storage.NewStore("sqlite", cfg.StoreConfig())
	if err != nil {
		b.Fatal(err)
	}
	memCache := cache.NewMemoryCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	dir := directory.New(store, memCache, validation.NewStructValidator(), logger, directory.Options{
		StoreTimeout: cfg.StoreTimeout,
		CacheTTL:     time.Duration(cfg.CacheTTL) * time.Second,
	})
	if err := dir.Bootstrap(context.Background(), directory.BootstrapOptions{Reset: true}); err != nil {
		b.Fatal(err)
	}

	srv := server.New(cfg, dir, logger)
	ts := httptest.NewServer(srv.Handler())

	b.Cleanup(func() {
		ts.Close()
		memCache.Close()
		store.Close()
		os.Remove(cfg.DBPath)
		os.Remove(cfg.DBPath + "-wal")
		os.Remove(cfg.DBPath + "-shm")
	})

	return ts, cfg
}

func benchAddUser(b *testing.B, ts *httptest.Server, name string) string {
	b.Helper()
	bodyBytes, _ := json.Marshal(map[string]interface{}{"name": name, "email": "bench@example.com"})
	resp, err := http.Post(ts.URL+"/adduser", "application/json", bytes.NewBuffer(bodyBytes))
	if err != nil {
		b.Fatal(err)
	}
	defer resp.Body.Close()
	uid, _ := io.ReadAll(resp.Body)
	return string(uid)
}

// BenchmarkAddUser benchmarks person creation
func BenchmarkAddUser(b *testing.B) {
	ts, _ := setupBenchServer(b)

	bodyBytes, _ := json.Marshal(map[string]interface{}{
		"name":  "Benchmark User",
		"email": "bench@example.com",
		"misc":  []string{"bench"},
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			req, _ := http.NewRequest("POST", ts.URL+"/adduser", bytes.NewBuffer(bodyBytes))
			req.Header.Set("Content-Type", "application/json")
			resp, _ := http.DefaultClient.Do(req)
			resp.Body.Close()
		}
	})
}

// BenchmarkGetUID benchmarks the index fast path
func BenchmarkGetUID(b *testing.B) {
	ts, _ := setupBenchServer(b)
	benchAddUser(b, ts, "Benchmark User")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, _ := http.Get(ts.URL + "/getuid?user=Benchmark%20User")
			resp.Body.Close()
		}
	})
}

// BenchmarkUpdateUser benchmarks merge patches
func BenchmarkUpdateUser(b *testing.B) {
	ts, _ := setupBenchServer(b)
	uid := benchAddUser(b, ts, "Benchmark User")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, _ := http.Get(fmt.Sprintf("%s/updateuser?uid=%s&discord-user_id=%d", ts.URL, uid, i))
		resp.Body.Close()
	}
}

// BenchmarkGetUsers benchmarks cached listing
func BenchmarkGetUsers(b *testing.B) {
	ts, _ := setupBenchServer(b)

	for i := 0; i < 100; i++ {
		benchAddUser(b, ts, fmt.Sprintf("User %d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, _ := http.Get(ts.URL + "/getusers")
			resp.Body.Close()
		}
	})
}
