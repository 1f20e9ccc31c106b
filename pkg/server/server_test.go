package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ha1tch/friendgraph/pkg/cache"
	"github.com/ha1tch/friendgraph/pkg/config"
	"github.com/ha1tch/friendgraph/pkg/directory"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/query"
	"github.com/ha1tch/friendgraph/pkg/server"
	"github.com/ha1tch/friendgraph/pkg/storage"
	"github.com/ha1tch/friendgraph/pkg/validation"
	"github.com/rs/zerolog"
)

// TestServer holds test server instance and helpers
type TestServer struct {
	server *server.Server
	dir    *directory.Directory
	store  *recordingStore
	ts     *httptest.Server
	cfg    *config.Config
	t      *testing.T
}

// recordingStore counts reads to prove handlers that reject early never reach the store
type recordingStore struct {
	storage.Store
	queries atomic.Int64
}

func (s *recordingStore) Query(ctx context.Context, q query.Query) ([]byte, error) {
	s.queries.Add(1)
	return s.Store.Query(ctx, q)
}

// setupTestServer creates a test server with temporary storage. The
// directory is bootstrapped unless bootstrap is false.
func setupTestServer(t *testing.T, bootstrap bool) *TestServer {
	tmpFile, err := os.CreateTemp("", "friendgraph-server-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg := config.Default()
	cfg.Host = "localhost"
	cfg.Port = 0
	cfg.DBPath = tmpFile.Name()

	inner, err := storage.NewStore("sqlite", cfg.StoreConfig())
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{Store: inner}

	memCache := cache.NewMemoryCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	dir := directory.New(store, memCache, validation.NewStructValidator(), logger, directory.Options{
		StoreTimeout: cfg.StoreTimeout,
		CacheTTL:     time.Duration(cfg.CacheTTL) * time.Second,
	})

	if bootstrap {
		if err := dir.Bootstrap(context.Background(), directory.BootstrapOptions{Reset: true}); err != nil {
			t.Fatal(err)
		}
	}

	srv := server.New(cfg, dir, logger)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		memCache.Close()
		inner.Close()
		os.Remove(cfg.DBPath)
		os.Remove(cfg.DBPath + "-wal")
		os.Remove(cfg.DBPath + "-shm")
	})

	return &TestServer{
		server: srv,
		dir:    dir,
		store:  store,
		ts:     ts,
		cfg:    cfg,
		t:      t,
	}
}

// doRequest makes HTTP request and returns response
func (ts *TestServer) doRequest(method, path string, body interface{}, headers ...string) (*http.Response, []byte) {
	var bodyBytes []byte
	if body != nil {
		var err error
		if raw, ok := body.(string); ok {
			bodyBytes = []byte(raw)
		} else if bodyBytes, err = json.Marshal(body); err != nil {
			ts.t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, ts.ts.URL+path, bytes.NewBuffer(bodyBytes))
	if err != nil {
		ts.t.Fatal(err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatal(err)
	}
	defer resp.Body.Close()

	respBody := &bytes.Buffer{}
	respBody.ReadFrom(resp.Body)

	return resp, respBody.Bytes()
}

func (ts *TestServer) addUser(person interface{}) string {
	resp, body := ts.doRequest("POST", "/adduser", person)
	if resp.StatusCode != http.StatusOK {
		ts.t.Fatalf("adduser: expected 200, got %d: %s", resp.StatusCode, body)
	}
	return string(body)
}

// getUsers lists everyone when name is empty
func (ts *TestServer) getUsers(name string) []models.Person {
	path := "/getusers"
	if name != "" {
		path += "?user=" + url.QueryEscape(name)
	}
	resp, body := ts.doRequest("GET", path, nil)
	if resp.StatusCode != http.StatusOK {
		ts.t.Fatalf("getusers: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var people []models.Person
	if err := json.Unmarshal(body, &people); err != nil {
		ts.t.Fatal(err)
	}
	return people
}

// TestHealthEndpoints tests health and version endpoints
func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t, true)

	t.Run("GET /", func(t *testing.T) {
		resp, body := ts.doRequest("GET", "/", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
		if string(body) != server.Banner {
			t.Errorf("Expected banner, got %q", body)
		}
	})

	t.Run("GET /health", func(t *testing.T) {
		resp, body := ts.doRequest("GET", "/health", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatal(err)
		}

		if result["status"] != "ok" {
			t.Errorf("Expected status ok, got %v", result["status"])
		}
	})

	t.Run("GET /version", func(t *testing.T) {
		resp, body := ts.doRequest("GET", "/version", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatal(err)
		}

		if result["version"] != config.Version {
			t.Errorf("Expected version %s, got %v", config.Version, result["version"])
		}
	})
}

// TestCommonHeaders checks the headers every route carries
func TestCommonHeaders(t *testing.T) {
	ts := setupTestServer(t, true)

	for _, path := range []string{"/", "/health", "/getusers", "/getuid", "/friendws"} {
		resp, _ := ts.doRequest("GET", path, nil)
		if got := resp.Header.Get("Server"); got != server.ServerName {
			t.Errorf("%s: expected Server %q, got %q", path, server.ServerName, got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: expected CORS *, got %q", path, got)
		}
	}
}

// TestNotReady checks that API routes wait for bootstrap
func TestNotReady(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, _ := ts.doRequest("GET", "/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /health, got %d", resp.StatusCode)
	}

	resp, _ = ts.doRequest("GET", "/getusers", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /getusers, got %d", resp.StatusCode)
	}
}

// TestUserLifecycle walks a person through creation, lookup, patching and friending
func TestUserLifecycle(t *testing.T) {
	ts := setupTestServer(t, true)

	var u1, u2 string

	t.Run("POST /adduser", func(t *testing.T) {
		u1 = ts.addUser(map[string]interface{}{"name": "Ada"})
		if u1 == "" || models.IsPlaceholder(u1) {
			t.Fatalf("Expected a permanent identifier, got %q", u1)
		}
		u2 = ts.addUser(map[string]interface{}{"name": "Bob"})
		if u2 == u1 {
			t.Fatal("Expected distinct identifiers")
		}
	})

	t.Run("GET /getuid", func(t *testing.T) {
		resp, body := ts.doRequest("GET", "/getuid?user=Ada", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
		}
		if string(body) != u1 {
			t.Errorf("Expected %q, got %q", u1, body)
		}
	})

	t.Run("GET /updateuser", func(t *testing.T) {
		resp, body := ts.doRequest("GET", "/updateuser?uid="+u1+"&name=Ada%20L&email=ada@x.io", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
		}

		var person models.Person
		if err := json.Unmarshal(body, &person); err != nil {
			t.Fatal(err)
		}
		if person.GetName() != "Ada L" {
			t.Errorf("Expected name Ada L, got %q", person.GetName())
		}
		if person.Email == nil || *person.Email != "ada@x.io" {
			t.Errorf("Expected email ada@x.io, got %v", person.Email)
		}
		if person.GetUID() != u1 {
			t.Errorf("Expected uid %s, got %s", u1, person.GetUID())
		}
		if person.Discord != nil || person.School != nil || person.Friends != nil || person.Misc != nil {
			t.Errorf("Expected untouched fields to stay absent: %+v", person)
		}
	})

	t.Run("GET /addfriend twice", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp, body := ts.doRequest("GET", "/addfriend?uid="+u1+"&friend="+u2, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
			}
			if string(body) != u1 {
				t.Errorf("Expected %q, got %q", u1, body)
			}
		}

		people := ts.getUsers("Ada L")
		if len(people) != 1 {
			t.Fatalf("Expected 1 person, got %d", len(people))
		}
		friends := people[0].Friends
		if len(friends) != 2 || friends[0].UID != u2 || friends[1].UID != u2 {
			t.Errorf("Expected %s twice, got %+v", u2, friends)
		}
	})

	t.Run("GET /getusers without filter", func(t *testing.T) {
		if people := ts.getUsers(""); len(people) != 2 {
			t.Errorf("Expected 2 people, got %d", len(people))
		}
	})
}

// TestGetUsersEmpty checks that no match is an empty array, not an error
func TestGetUsersEmpty(t *testing.T) {
	ts := setupTestServer(t, true)

	resp, body := ts.doRequest("GET", "/getusers?user=Nobody", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("Expected [], got %s", body)
	}
}

// TestGetUsersEmptyName checks that an empty user filters instead of listing everyone
func TestGetUsersEmptyName(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.addUser(map[string]interface{}{"name": "Ada"})

	resp, body := ts.doRequest("GET", "/getusers?user=", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("Expected [], got %s", body)
	}

	if people := ts.getUsers(""); len(people) != 1 {
		t.Errorf("Expected 1 person without a filter, got %d", len(people))
	}
}

// TestParameterErrors checks the 400 paths
func TestParameterErrors(t *testing.T) {
	ts := setupTestServer(t, true)

	t.Run("GET /getuid without user", func(t *testing.T) {
		before := ts.store.queries.Load()
		resp, body := ts.doRequest("GET", "/getuid", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
		if string(body) != "Error: user cannot be empty" {
			t.Errorf("Unexpected body %q", body)
		}
		if ts.store.queries.Load() != before {
			t.Error("Expected no store call")
		}
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   string
	}{
		{"adduser without name", "POST", "/adduser", map[string]interface{}{"email": "x@y.io"}, "name cannot be empty"},
		{"adduser invalid JSON", "POST", "/adduser", "{not json", "Invalid JSON"},
		{"adduser invalid email", "POST", "/adduser", map[string]interface{}{"name": "X", "email": "nope"}, "field email"},
		{"addfriend without uid", "GET", "/addfriend?friend=0x1", nil, "uid cannot be empty"},
		{"addfriend without friend", "GET", "/addfriend?uid=0x1", nil, "friend cannot be empty"},
		{"updateuser without uid", "GET", "/updateuser?name=X", nil, "uid cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.doRequest(tt.method, tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", resp.StatusCode, body)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("Expected body to contain %q, got %q", tt.want, body)
			}
		})
	}

	t.Run("updateuser with bad user id", func(t *testing.T) {
		uid := ts.addUser(map[string]interface{}{"name": "Grace"})
		resp, body := ts.doRequest("GET", "/updateuser?uid="+uid+"&name=Changed&discord-user_id=abc", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", resp.StatusCode, body)
		}
		if people := ts.getUsers("Grace"); len(people) != 1 {
			t.Errorf("Expected Grace to be unchanged, got %d matches", len(people))
		}
	})
}

// TestNotFound checks the 404 paths
func TestNotFound(t *testing.T) {
	ts := setupTestServer(t, true)

	for _, path := range []string{
		"/getuid?user=Nobody",
		"/addfriend?uid=0x99&friend=0x1",
		"/updateuser?uid=0x99&name=X",
	} {
		resp, body := ts.doRequest("GET", path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d: %s", path, resp.StatusCode, body)
		}
	}
}

// TestJSONErrors checks the error envelope for JSON clients
func TestJSONErrors(t *testing.T) {
	ts := setupTestServer(t, true)

	resp, body := ts.doRequest("GET", "/getuid", nil, "Accept", "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}

	var result models.ErrorResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Error.Status != http.StatusBadRequest || result.Error.Message != "user cannot be empty" {
		t.Errorf("Unexpected envelope %+v", result)
	}
}

// TestUpdateNestedFields checks sub-field patches through the HTTP surface
func TestUpdateNestedFields(t *testing.T) {
	ts := setupTestServer(t, true)

	uid := ts.addUser(map[string]interface{}{
		"name":    "Ada",
		"discord": map[string]interface{}{"handle": "ada#1", "user_id": 1},
	})

	q := url.Values{
		"uid":             {uid},
		"discord-user_id": {"77"},
		"x-handle":        {"ada_x"},
		"school":          {"Somerville:College", "Cambridge:University"},
	}
	resp, body := ts.doRequest("GET", "/updateuser?"+q.Encode(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	people := ts.getUsers("Ada")
	if len(people) != 1 {
		t.Fatalf("Expected 1 person, got %d", len(people))
	}
	p := people[0]
	if p.Discord == nil || p.Discord.UserID != 77 || p.Discord.Handle == nil || *p.Discord.Handle != "ada#1" {
		t.Errorf("Unexpected discord %+v", p.Discord)
	}
	if p.X == nil || p.X.Handle == nil || *p.X.Handle != "ada_x" {
		t.Errorf("Unexpected x %+v", p.X)
	}
	if len(p.School) != 2 || p.School[1].SchoolType != models.University {
		t.Errorf("Unexpected school %+v", p.School)
	}
}

// TestFriendSocket checks the relay route is mounted
func TestFriendSocket(t *testing.T) {
	ts := setupTestServer(t, true)

	resp, body := ts.doRequest("GET", "/friendws", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	if string(body) != "Error: No user specified\n" {
		t.Errorf("Unexpected body %q", body)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.ts.URL, "http") + "/friendws?user=Ada"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	wsResp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, greeting, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(greeting) != "Hello!\n" {
		t.Errorf("Unexpected greeting %q", greeting)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping me")); err != nil {
		t.Fatal(err)
	}
	_, echo, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(echo) != "ping me" {
		t.Errorf("Expected echo, got %q", echo)
	}
}
