package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/query"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DgraphStore implements Store on a Dgraph cluster over gRPC
type DgraphStore struct {
	conn   *grpc.ClientConn
	client *dgo.Dgraph
	addr   string
}

// NewDgraphStore connects to a Dgraph alpha at addr (host:port)
func NewDgraphStore(addr string) (*DgraphStore, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial dgraph at %s: %w", addr, err)
	}

	return &DgraphStore{
		conn:   conn,
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		addr:   addr,
	}, nil
}

// Info returns store information
func (s *DgraphStore) Info() StoreInfo {
	return StoreInfo{
		Type:         "dgraph",
		Version:      "v23",
		DedupesEdges: true,
	}
}

// Query runs a read-only query and returns the result block
func (s *DgraphStore) Query(ctx context.Context, q query.Query) ([]byte, error) {
	if q.Kind == query.ByUID && !validDgraphUID.MatchString(q.Param) {
		// uid() rejects the whole query for a malformed identifier
		return []byte("[]"), nil
	}
	text, vars := q.DQL()

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	var resp *api.Response
	var err error
	if vars == nil {
		resp, err = txn.Query(ctx, text)
	} else {
		resp, err = txn.QueryWithVars(ctx, text, vars)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	var blocks map[string]json.RawMessage
	if err := json.Unmarshal(resp.Json, &blocks); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	block, ok := blocks[q.Block()]
	if !ok || len(block) == 0 || string(block) == "null" {
		return []byte("[]"), nil
	}
	return block, nil
}

// NewTxn opens a mutation transaction
func (s *DgraphStore) NewTxn(ctx context.Context) (Txn, error) {
	return &dgraphTxn{txn: s.client.NewTxn()}, nil
}

type dgraphTxn struct {
	txn *dgo.Txn
}

// Mutate sends the JSON payload as a set mutation. On existing nodes, list
// predicates and predicates sent as null are deleted first, so the set
// replaces them instead of appending.
func (t *dgraphTxn) Mutate(ctx context.Context, mu Mutation) (*Assigned, error) {
	set, del, err := splitMutation(mu.SetJSON)
	if err != nil {
		return nil, err
	}

	if del != nil {
		if _, err := t.txn.Mutate(ctx, &api.Mutation{DeleteJson: del}); err != nil {
			return nil, dgraphMutateError(err)
		}
	}

	resp, err := t.txn.Mutate(ctx, &api.Mutation{SetJson: set})
	if err != nil {
		return nil, dgraphMutateError(err)
	}

	uids := make(map[string]string, len(resp.Uids))
	for label, uid := range resp.Uids {
		uids[label] = uid
	}
	return &Assigned{UIDs: uids}, nil
}

func dgraphMutateError(err error) error {
	if errors.Is(err, dgo.ErrFinished) {
		return ErrTxnFinished
	}
	return fmt.Errorf("failed to mutate: %w", err)
}

// splitMutation rewrites a payload into its set part, with null members
// removed, and the delete part for existing nodes (nil when empty)
func splitMutation(setJSON []byte) (set, del []byte, err error) {
	nodes, err := decodePayload(setJSON)
	if err != nil {
		return nil, nil, err
	}

	null := json.RawMessage("null")
	sets := make([]map[string]json.RawMessage, 0, len(nodes))
	var dels []map[string]json.RawMessage
	for _, n := range nodes {
		doc := make(map[string]json.RawMessage, len(n.doc)+1)
		cleared := make(map[string]json.RawMessage)
		for k, v := range n.doc {
			if isNull(v) {
				cleared[k] = null
				continue
			}
			if n.uid != "" && listPredicates[k] {
				cleared[k] = null
			}
			doc[k] = v
		}

		switch {
		case n.uid != "":
			ref, _ := json.Marshal(n.uid)
			doc["uid"] = ref
			if len(cleared) > 0 {
				cleared["uid"] = ref
				dels = append(dels, cleared)
			}
		case n.label != "":
			doc["uid"], _ = json.Marshal(models.Placeholder(n.label))
		}
		sets = append(sets, doc)
	}

	if set, err = json.Marshal(sets); err != nil {
		return nil, nil, err
	}
	if len(dels) > 0 {
		if del, err = json.Marshal(dels); err != nil {
			return nil, nil, err
		}
	}
	return set, del, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// validDgraphUID matches the identifier forms uid() accepts
var validDgraphUID = regexp.MustCompile(`^(0x[0-9a-fA-F]+|[0-9]+)$`)

// Commit commits the transaction
func (t *dgraphTxn) Commit(ctx context.Context) error {
	if err := t.txn.Commit(ctx); err != nil {
		if errors.Is(err, dgo.ErrFinished) {
			return ErrTxnFinished
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Discard aborts the transaction; it is a no-op once committed
func (t *dgraphTxn) Discard(ctx context.Context) error {
	return t.txn.Discard(ctx)
}

// Alter drops all data and/or installs schema predicates
func (s *DgraphStore) Alter(ctx context.Context, op Operation) error {
	if op.DropAll {
		if err := s.client.Alter(ctx, &api.Operation{DropAll: true}); err != nil {
			return fmt.Errorf("failed to drop all: %w", err)
		}
	}

	if len(op.Schema) > 0 {
		lines := make([]string, 0, len(op.Schema))
		for _, p := range op.Schema {
			lines = append(lines, p.DQL())
		}
		if err := s.client.Alter(ctx, &api.Operation{Schema: strings.Join(lines, "\n")}); err != nil {
			return fmt.Errorf("failed to set schema: %w", err)
		}
	}
	return nil
}

// Close closes the gRPC connection
func (s *DgraphStore) Close() error {
	return s.conn.Close()
}
