package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ha1tch/friendgraph/pkg/query"
)

var (
	// ErrNotFound is returned when a mutation targets a node the store does not hold
	ErrNotFound = errors.New("node not found")
	// ErrTxnFinished is returned when a transaction is used after commit or discard
	ErrTxnFinished = errors.New("transaction already finished")
	// ErrInvalidPayload is returned when a mutation payload is not a JSON object or array
	ErrInvalidPayload = errors.New("invalid mutation payload")
)

// Store defines the transactional interface to the graph store
type Store interface {
	// Query runs a read-only query and returns the matching records as a JSON array
	Query(ctx context.Context, q query.Query) ([]byte, error)

	// NewTxn opens a mutation transaction
	NewTxn(ctx context.Context) (Txn, error)

	// Alter runs an administrative operation
	Alter(ctx context.Context, op Operation) error

	// Lifecycle
	Close() error
}

// Txn is a mutation transaction. Discard after Commit is a no-op.
type Txn interface {
	Mutate(ctx context.Context, mu Mutation) (*Assigned, error)
	Commit(ctx context.Context) error
	Discard(ctx context.Context) error
}

// Mutation carries a JSON object (or array of objects) to set. Objects
// whose uid is a blank-node label are created; objects with a permanent
// uid are upserted.
type Mutation struct {
	SetJSON []byte
}

// Assigned maps the blank-node labels of a mutation, without their
// "_:" prefix, to the permanent identifiers the store minted for them
type Assigned struct {
	UIDs map[string]string
}

// Operation is an administrative operation
type Operation struct {
	DropAll bool
	Schema  []Predicate
}

// Predicate declares one attribute of the schema
type Predicate struct {
	Name  string
	Type  string // "string", "int", "uid", "[uid]", "[string]"
	Index []string
}

// DQL renders the predicate as a Dgraph schema line
func (p Predicate) DQL() string {
	if len(p.Index) == 0 {
		return fmt.Sprintf("%s: %s .", p.Name, p.Type)
	}
	return fmt.Sprintf("%s: %s @index(%s) .", p.Name, p.Type, strings.Join(p.Index, ", "))
}

// Indexed reports whether the predicate carries the given tokenizer
func (p Predicate) Indexed(tokenizer string) bool {
	for _, idx := range p.Index {
		if idx == tokenizer {
			return true
		}
	}
	return false
}

// Schema is the schema the directory installs: name as an exact-match
// indexed string, an integer age attribute that nothing writes yet, and
// the nested edges. Declaring the single edges as uid keeps a graph store
// from turning them into lists on the second write.
func Schema() []Predicate {
	return []Predicate{
		{Name: query.PredName, Type: "string", Index: []string{"exact"}},
		{Name: query.PredAge, Type: "int"},
		{Name: "discord", Type: "uid"},
		{Name: "instagram", Type: "uid"},
		{Name: "x", Type: "uid"},
		{Name: "school", Type: "[uid]"},
		{Name: "friends", Type: "[uid]"},
		{Name: "misc", Type: "[string]"},
	}
}

// listPredicates are the predicates a set mutation appends to rather than
// replaces
var listPredicates = map[string]bool{"school": true, "misc": true, "friends": true}

// Reset drops every node and reinstalls the schema
func Reset(ctx context.Context, store Store) error {
	if err := store.Alter(ctx, Operation{DropAll: true}); err != nil {
		return fmt.Errorf("drop all: %w", err)
	}
	if err := store.Alter(ctx, Operation{Schema: Schema()}); err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	return nil
}

// WithTxn runs fn inside a transaction and commits it when fn succeeds
func WithTxn(ctx context.Context, store Store, fn func(Txn) error) error {
	txn, err := store.NewTxn(ctx)
	if err != nil {
		return err
	}
	defer txn.Discard(ctx)

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// StoreInfo provides metadata about the store implementation
type StoreInfo struct {
	Type     string // "dgraph", "neo4j", "sqlite"
	Version  string
	Embedded bool
	// DedupesEdges is true when the store keeps friend edges as a set
	DedupesEdges bool
}

// InfoProvider allows stores to provide metadata about their capabilities
type InfoProvider interface {
	Info() StoreInfo
}
