package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ha1tch/friendgraph/pkg/query"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements Store on Neo4j. A person is a :Person node whose
// predicates live in a JSON "data" property; name is also a top-level
// property so it can be indexed. Friend references are mirrored as
// ordered :FRIEND relationships. The permanent uid is the elementId.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jStore connects to Neo4j and verifies connectivity
func NewNeo4jStore(uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver}, nil
}

// Info returns store information
func (s *Neo4jStore) Info() StoreInfo {
	return StoreInfo{
		Type:    "neo4j",
		Version: "5",
	}
}

// Query runs a read-only query
func (s *Neo4jStore) Query(ctx context.Context, q query.Query) ([]byte, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	var cypher string
	params := map[string]interface{}{}

	switch q.Kind {
	case query.ByName:
		cypher = `
			MATCH (p:Person)
			WHERE p.name = $name
			RETURN elementId(p) AS uid, p.data AS data
			ORDER BY p.created_at
		`
		params["name"] = q.Param
	case query.ByUID:
		cypher = `
			MATCH (p:Person)
			WHERE elementId(p) = $uid AND p.name IS NOT NULL
			RETURN elementId(p) AS uid, p.data AS data
		`
		params["uid"] = q.Param
	case query.All, query.Nodes:
		cypher = `
			MATCH (p:Person)
			WHERE p.name IS NOT NULL
			RETURN elementId(p) AS uid, p.data AS data
			ORDER BY p.created_at
		`
	default:
		return nil, fmt.Errorf("unsupported query kind: %s", q.Kind)
	}

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	rows := make([]map[string]json.RawMessage, 0, len(records))
	for _, record := range records {
		uid := getString(record, "uid")
		doc, err := renderNode(uid, getString(record, "data"))
		if err != nil {
			return nil, err
		}
		if q.Kind == query.Nodes {
			doc = projectNode(doc)
		}
		rows = append(rows, doc)
	}
	return encodeRows(rows)
}

// NewTxn opens an explicit write transaction on its own session
func (s *Neo4jStore) NewTxn(ctx context.Context) (Txn, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &neo4jTxn{session: session, tx: tx}, nil
}

type neo4jTxn struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

// Mutate creates or merges every node of the payload
func (t *neo4jTxn) Mutate(ctx context.Context, mu Mutation) (*Assigned, error) {
	if t.done {
		return nil, ErrTxnFinished
	}

	nodes, err := decodePayload(mu.SetJSON)
	if err != nil {
		return nil, err
	}

	assigned := &Assigned{UIDs: make(map[string]string)}
	for _, n := range nodes {
		uid := n.uid
		if uid == "" && n.label != "" {
			uid = assigned.UIDs[n.label]
		}

		if uid == "" {
			if uid, err = t.create(ctx, n); err != nil {
				return nil, err
			}
			if n.label != "" {
				assigned.UIDs[n.label] = uid
			}
		} else if err := t.merge(ctx, uid, n); err != nil {
			return nil, err
		}

		if _, ok := n.doc["friends"]; ok {
			friends, err := n.friendUIDs()
			if err != nil {
				return nil, err
			}
			if err := t.syncFriends(ctx, uid, friends); err != nil {
				return nil, fmt.Errorf("failed to sync friend edges: %w", err)
			}
		}
	}
	return assigned, nil
}

func (t *neo4jTxn) create(ctx context.Context, n payloadNode) (string, error) {
	doc := make(map[string]json.RawMessage, len(n.doc))
	for k, v := range n.doc {
		if !isNull(v) {
			doc[k] = v
		}
	}
	data, err := encodeDoc(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	result, err := t.tx.Run(ctx, `
		CREATE (p:Person {name: $name, data: $data, created_at: timestamp()})
		RETURN elementId(p) AS uid
	`, map[string]interface{}{
		"name": nullable(n.name()),
		"data": data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create node: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to verify node creation: %w", err)
	}
	return getString(record, "uid"), nil
}

func (t *neo4jTxn) merge(ctx context.Context, uid string, n payloadNode) error {
	result, err := t.tx.Run(ctx, `
		MATCH (p:Person) WHERE elementId(p) = $uid
		RETURN p.data AS data
	`, map[string]interface{}{"uid": uid})
	if err != nil {
		return fmt.Errorf("failed to load node: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to load node: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uid)
	}

	existing, err := renderNode(uid, getString(records[0], "data"))
	if err != nil {
		return err
	}
	delete(existing, "uid")
	for k, v := range n.doc {
		if isNull(v) {
			delete(existing, k)
			continue
		}
		existing[k] = v
	}
	data, err := encodeDoc(existing)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	params := map[string]interface{}{"uid": uid, "data": data}
	cypher := `MATCH (p:Person) WHERE elementId(p) = $uid SET p.data = $data`
	if name := n.name(); name != nil {
		cypher += `, p.name = $name`
		params["name"] = *name
	}
	if _, err := t.tx.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

func (t *neo4jTxn) syncFriends(ctx context.Context, uid string, friends []string) error {
	_, err := t.tx.Run(ctx, `
		MATCH (p:Person)-[r:FRIEND]->()
		WHERE elementId(p) = $uid
		DELETE r
	`, map[string]interface{}{"uid": uid})
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		return nil
	}

	_, err = t.tx.Run(ctx, `
		MATCH (p:Person) WHERE elementId(p) = $uid
		UNWIND range(0, size($friends) - 1) AS i
		MATCH (f:Person) WHERE elementId(f) = $friends[i]
		CREATE (p)-[:FRIEND {position: i}]->(f)
	`, map[string]interface{}{"uid": uid, "friends": friends})
	return err
}

// Commit commits the transaction and closes its session
func (t *neo4jTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnFinished
	}
	t.done = true
	defer t.session.Close(ctx)

	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Discard rolls back an unfinished transaction
func (t *neo4jTxn) Discard(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(ctx)

	return t.tx.Rollback(ctx)
}

// Alter drops all nodes and/or creates indexes for schema predicates
func (s *Neo4jStore) Alter(ctx context.Context, op Operation) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if op.DropAll {
		if _, err := session.Run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
			return fmt.Errorf("failed to drop all: %w", err)
		}
	}

	for _, p := range op.Schema {
		if !predicateName.MatchString(p.Name) {
			return fmt.Errorf("invalid predicate name: %q", p.Name)
		}
		if !p.Indexed("exact") {
			continue
		}
		cypher := fmt.Sprintf(
			"CREATE INDEX person_%s IF NOT EXISTS FOR (p:Person) ON (p.%s)", p.Name, p.Name)
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("failed to index predicate %s: %w", p.Name, err)
		}
	}
	return nil
}

// Close closes the Neo4j driver connection
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func getString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
