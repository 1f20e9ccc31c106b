// Package query builds the parameterized read queries run against the
// graph store. Every person query shares one projection so that records
// read by name, by uid or in bulk decode into the same shape.
//
// Values are always carried as bound variables. Adapters that do not
// speak DQL read Kind and Param directly instead of rendering text.
package query

import (
	"fmt"
	"strings"
)

// Kind identifies the filter a query applies
type Kind int

const (
	// ByName matches nodes whose name equals the parameter exactly
	ByName Kind = iota
	// ByUID matches the node with the given identifier
	ByUID
	// All matches every node carrying a name
	All
	// Nodes matches every node carrying a name, projecting only uid and name
	Nodes
)

func (k Kind) String() string {
	switch k {
	case ByName:
		return "by_name"
	case ByUID:
		return "by_uid"
	case All:
		return "all"
	case Nodes:
		return "nodes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Block names of the query results
const (
	PeopleBlock = "all"
	NodesBlock  = "queryNodes"
)

// Predicate names used by the projection and the schema
const (
	PredName = "name"
	PredAge  = "age"
)

// Query is a read query with its bound parameter
type Query struct {
	Kind  Kind
	Param string
}

// PersonByName builds a query for people with the given name
func PersonByName(name string) Query {
	return Query{Kind: ByName, Param: name}
}

// PersonByUID builds a query for the person with the given uid
func PersonByUID(uid string) Query {
	return Query{Kind: ByUID, Param: uid}
}

// AllPeople builds a query for every person
func AllPeople() Query {
	return Query{Kind: All}
}

// AllNodes builds the uid/name scan used to populate the name index
func AllNodes() Query {
	return Query{Kind: Nodes}
}

// Block returns the name of the result block this query fills
func (q Query) Block() string {
	if q.Kind == Nodes {
		return NodesBlock
	}
	return PeopleBlock
}

// Key returns a stable identity for the query, used to coalesce reads
func (q Query) Key() string {
	return q.Kind.String() + ":" + q.Param
}

// PersonFields is the projection shared by every person query
var PersonFields = []Field{
	{Name: "uid"},
	{Name: "name"},
	{Name: "email"},
	{Name: "discord", Children: []Field{{Name: "uid"}, {Name: "handle"}, {Name: "display_name"}, {Name: "user_id"}}},
	{Name: "instagram", Children: []Field{{Name: "uid"}, {Name: "handle"}, {Name: "display_name"}, {Name: "user_id"}}},
	{Name: "snapchat"},
	{Name: "x", Children: []Field{{Name: "uid"}, {Name: "handle"}, {Name: "display_name"}, {Name: "user_id"}}},
	{Name: "school", Children: []Field{{Name: "uid"}, {Name: "name"}, {Name: "schooltype"}}},
	{Name: "friends", Children: []Field{{Name: "uid"}}},
	{Name: "misc"},
}

// NodeFields is the projection of the index scan
var NodeFields = []Field{{Name: "uid"}, {Name: "name"}}

// Field is one entry of a projection
type Field struct {
	Name     string
	Children []Field
}

// DQL renders the query as DQL text plus its variable map
func (q Query) DQL() (string, map[string]string) {
	var b strings.Builder
	var vars map[string]string

	switch q.Kind {
	case ByName:
		vars = map[string]string{"$a": q.Param}
		b.WriteString("query all($a: string) {\n")
		fmt.Fprintf(&b, "  %s(func: eq(%s, $a)) {\n", PeopleBlock, PredName)
	case ByUID:
		vars = map[string]string{"$u": q.Param}
		b.WriteString("query all($u: string) {\n")
		fmt.Fprintf(&b, "  %s(func: uid($u)) @filter(has(%s)) {\n", PeopleBlock, PredName)
	case All:
		b.WriteString("query all {\n")
		fmt.Fprintf(&b, "  %s(func: has(%s)) {\n", PeopleBlock, PredName)
	case Nodes:
		b.WriteString("query {\n")
		fmt.Fprintf(&b, "  %s(func: has(%s)) {\n", NodesBlock, PredName)
	}

	fields := PersonFields
	if q.Kind == Nodes {
		fields = NodeFields
	}
	writeFields(&b, fields, 2)
	b.WriteString("  }\n}\n")
	return b.String(), vars
}

func writeFields(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		if len(f.Children) == 0 {
			b.WriteString(indent + f.Name + "\n")
			continue
		}
		b.WriteString(indent + f.Name + " {\n")
		writeFields(b, f.Children, depth+1)
		b.WriteString(indent + "}\n")
	}
}
