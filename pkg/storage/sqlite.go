package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ha1tch/friendgraph/pkg/query"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store as an embedded graph store. Each node is a
// JSON document keyed by an integer uid rendered as "0x<hex>"; friend
// edges live in their own table and are rebuilt into the document on read.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	config SQLiteConfig
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging for better concurrency
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

var predicateName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// NewSQLiteStore creates a new SQLite-backed graph store
func NewSQLiteStore(config SQLiteConfig) (*SQLiteStore, error) {
	if config.DBPath == "" {
		config.DBPath = "friendgraph.db"
	}

	db, err := sql.Open("sqlite", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	store := &SQLiteStore{
		db:     db,
		config: config,
	}

	if err := store.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *SQLiteStore) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSize),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout),
	}
	if s.config.EnableWAL {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		-- One row per graph node, predicates stored as a JSON document
		CREATE TABLE IF NOT EXISTS nodes (
			uid INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		-- Ordered friend edges; duplicates are allowed
		CREATE TABLE IF NOT EXISTS friend_edges (
			source_uid INTEGER NOT NULL,
			position INTEGER NOT NULL,
			target_uid TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source_uid, position)
		);

		CREATE INDEX IF NOT EXISTS idx_friend_target ON friend_edges(target_uid);

		-- Installed schema predicates
		CREATE TABLE IF NOT EXISTS predicates (
			name TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			tokenizers TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// Info returns store information
func (s *SQLiteStore) Info() StoreInfo {
	return StoreInfo{
		Type:     "sqlite",
		Version:  "1.0.0",
		Embedded: true,
	}
}

// FormatUID renders a node id the way the store hands it out
func FormatUID(id int64) string {
	return fmt.Sprintf("0x%x", id)
}

// ParseUID parses a "0x<hex>" identifier
func ParseUID(uid string) (int64, error) {
	if !strings.HasPrefix(uid, "0x") {
		return 0, fmt.Errorf("invalid uid %q", uid)
	}
	id, err := strconv.ParseInt(uid[2:], 16, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid uid %q", uid)
	}
	return id, nil
}

// Query runs a read-only query
func (s *SQLiteStore) Query(ctx context.Context, q query.Query) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sqlQuery string
	var args []interface{}

	switch q.Kind {
	case query.ByName:
		sqlQuery = `
			SELECT uid, data FROM nodes
			WHERE json_extract(data, '$.name') = ?
			ORDER BY uid
		`
		args = []interface{}{q.Param}
	case query.ByUID:
		id, err := ParseUID(q.Param)
		if err != nil {
			// An identifier the store could never have minted matches nothing
			return encodeRows(nil)
		}
		sqlQuery = `
			SELECT uid, data FROM nodes
			WHERE uid = ? AND json_extract(data, '$.name') IS NOT NULL
		`
		args = []interface{}{id}
	case query.All, query.Nodes:
		sqlQuery = `
			SELECT uid, data FROM nodes
			WHERE json_extract(data, '$.name') IS NOT NULL
			ORDER BY uid
		`
	default:
		return nil, fmt.Errorf("unsupported query kind: %s", q.Kind)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	type row struct {
		id   int64
		data string
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.data); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	results := make([]map[string]json.RawMessage, 0, len(found))
	for _, r := range found {
		doc, err := renderNode(FormatUID(r.id), r.data)
		if err != nil {
			return nil, err
		}
		if q.Kind == query.Nodes {
			results = append(results, projectNode(doc))
			continue
		}
		if err := s.attachFriends(ctx, r.id, doc); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}

	return encodeRows(results)
}

// attachFriends reads a node's friend edges back into its document
func (s *SQLiteStore) attachFriends(ctx context.Context, id int64, doc map[string]json.RawMessage) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_uid FROM friend_edges
		WHERE source_uid = ?
		ORDER BY position
	`, id)
	if err != nil {
		return fmt.Errorf("failed to query friend edges: %w", err)
	}
	defer rows.Close()

	var friends []map[string]string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return err
		}
		friends = append(friends, map[string]string{"uid": target})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(friends) > 0 {
		raw, err := json.Marshal(friends)
		if err != nil {
			return err
		}
		doc["friends"] = raw
	}
	return nil
}

// NewTxn opens a write transaction. SQLite has a single writer, so the
// store lock is held until the transaction commits or is discarded.
func (s *SQLiteStore) NewTxn(ctx context.Context) (Txn, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTxn{store: s, tx: tx}, nil
}

type sqliteTxn struct {
	store *SQLiteStore
	tx    *sql.Tx
	done  bool
}

// Mutate upserts every node of the payload
func (t *sqliteTxn) Mutate(ctx context.Context, mu Mutation) (*Assigned, error) {
	if t.done {
		return nil, ErrTxnFinished
	}

	nodes, err := decodePayload(mu.SetJSON)
	if err != nil {
		return nil, err
	}

	assigned := &Assigned{UIDs: make(map[string]string)}
	for _, n := range nodes {
		friends, err := n.friendUIDs()
		if err != nil {
			return nil, err
		}
		_, hasFriends := n.doc["friends"]
		delete(n.doc, "friends")

		data, err := encodeDoc(n.doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}

		uid := n.uid
		if uid == "" && n.label != "" {
			uid = assigned.UIDs[n.label]
		}

		var id int64
		if uid != "" {
			if id, err = ParseUID(uid); err != nil {
				return nil, err
			}
			// Predicates merge into the stored node like a graph set
			// mutation; a null member deletes the stored predicate
			_, err = t.tx.ExecContext(ctx, `
				INSERT INTO nodes (uid, data) VALUES (?, ?)
				ON CONFLICT(uid) DO UPDATE SET
					data = json_patch(nodes.data, excluded.data),
					updated_at = CURRENT_TIMESTAMP
			`, id, data)
			if err != nil {
				return nil, fmt.Errorf("failed to upsert node: %w", err)
			}
		} else {
			err = t.tx.QueryRowContext(ctx, `
				INSERT INTO nodes (data) VALUES (json_patch('{}', ?))
				RETURNING uid
			`, data).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("failed to insert node: %w", err)
			}
			if n.label != "" {
				assigned.UIDs[n.label] = FormatUID(id)
			}
		}

		if hasFriends {
			if err := syncFriendEdges(ctx, t.tx, id, friends); err != nil {
				return nil, fmt.Errorf("failed to sync friend edges: %w", err)
			}
		}
	}

	return assigned, nil
}

// syncFriendEdges replaces a node's outgoing friend edges, keeping order
func syncFriendEdges(ctx context.Context, tx *sql.Tx, sourceID int64, targets []string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM friend_edges
		WHERE source_uid = ?
	`, sourceID)
	if err != nil {
		return err
	}

	for pos, target := range targets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO friend_edges (source_uid, position, target_uid)
			VALUES (?, ?, ?)
		`, sourceID, pos, target)
		if err != nil {
			return err
		}
	}

	return nil
}

// Commit commits the transaction and releases the store
func (t *sqliteTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnFinished
	}
	t.done = true
	defer t.store.mu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Discard rolls back an unfinished transaction
func (t *sqliteTxn) Discard(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.Unlock()

	return t.tx.Rollback()
}

// Alter drops all data and/or installs schema predicates
func (s *SQLiteStore) Alter(ctx context.Context, op Operation) error {
	return WithTxn(ctx, s, func(txn Txn) error {
		tx := txn.(*sqliteTxn).tx

		if op.DropAll {
			if err := dropPredicateIndexes(ctx, tx); err != nil {
				return err
			}
			for _, stmt := range []string{
				"DELETE FROM friend_edges",
				"DELETE FROM nodes",
				"DELETE FROM predicates",
				"DELETE FROM sqlite_sequence WHERE name = 'nodes'",
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to drop data: %w", err)
				}
			}
		}

		for _, p := range op.Schema {
			if !predicateName.MatchString(p.Name) {
				return fmt.Errorf("invalid predicate name: %q", p.Name)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO predicates (name, type, tokenizers) VALUES (?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					type = excluded.type,
					tokenizers = excluded.tokenizers,
					updated_at = CURRENT_TIMESTAMP
			`, p.Name, p.Type, strings.Join(p.Index, ","))
			if err != nil {
				return fmt.Errorf("failed to store predicate: %w", err)
			}
			if p.Indexed("exact") {
				stmt := fmt.Sprintf(
					"CREATE INDEX IF NOT EXISTS idx_pred_%s ON nodes(json_extract(data, '$.%s'))",
					p.Name, p.Name)
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to index predicate %s: %w", p.Name, err)
				}
			}
		}
		return nil
	})
}

func dropPredicateIndexes(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM predicates")
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()

	for _, name := range names {
		if !predicateName.MatchString(name) {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP INDEX IF EXISTS idx_pred_%s", name)); err != nil {
			return fmt.Errorf("failed to drop index for %s: %w", name, err)
		}
	}
	return nil
}

// Predicates returns the installed schema
func (s *SQLiteStore) Predicates(ctx context.Context) ([]Predicate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name, type, tokenizers FROM predicates ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var preds []Predicate
	for rows.Next() {
		var p Predicate
		var tokenizers string
		if err := rows.Scan(&p.Name, &p.Type, &tokenizers); err != nil {
			return nil, err
		}
		if tokenizers != "" {
			p.Index = strings.Split(tokenizers, ",")
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
