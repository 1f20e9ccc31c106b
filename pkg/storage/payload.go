package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ha1tch/friendgraph/pkg/models"
)

// payloadNode is one top-level object of a mutation, as seen by the
// document-backed stores (sqlite, neo4j). Nested objects stay inside doc.
type payloadNode struct {
	uid   string // permanent identifier, empty for new nodes
	label string // blank-node label without prefix, empty when none
	doc   map[string]json.RawMessage
}

// decodePayload splits a mutation payload into its top-level nodes
func decodePayload(setJSON []byte) ([]payloadNode, error) {
	trimmed := bytes.TrimSpace(setJSON)
	if len(trimmed) == 0 {
		return nil, ErrInvalidPayload
	}

	var objects []map[string]json.RawMessage
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		objects = append(objects, obj)
	case '[':
		if err := json.Unmarshal(trimmed, &objects); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	default:
		return nil, ErrInvalidPayload
	}

	nodes := make([]payloadNode, 0, len(objects))
	for _, obj := range objects {
		n := payloadNode{doc: obj}
		if raw, ok := obj["uid"]; ok {
			var uid string
			if err := json.Unmarshal(raw, &uid); err != nil {
				return nil, fmt.Errorf("%w: uid must be a string", ErrInvalidPayload)
			}
			if models.IsPlaceholder(uid) {
				n.label = models.Label(uid)
			} else {
				n.uid = uid
			}
			delete(obj, "uid")
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// name returns the node's name attribute, or nil when absent
func (n payloadNode) name() *string {
	raw, ok := n.doc["name"]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// friendUIDs returns the targets of the node's friend edges, in order
func (n payloadNode) friendUIDs() ([]string, error) {
	raw, ok := n.doc["friends"]
	if !ok {
		return nil, nil
	}
	var friends []models.Friend
	if err := json.Unmarshal(raw, &friends); err != nil {
		return nil, fmt.Errorf("%w: friends: %v", ErrInvalidPayload, err)
	}
	uids := make([]string, 0, len(friends))
	for _, f := range friends {
		uids = append(uids, f.UID)
	}
	return uids, nil
}

// encodeDoc marshals doc without the uid
func encodeDoc(doc map[string]json.RawMessage) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// renderNode decodes a stored document and stamps its uid back on
func renderNode(uid, data string) (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	rawUID, _ := json.Marshal(uid)
	doc["uid"] = rawUID
	return doc, nil
}

// projectNode keeps only uid and name, for the index scan
func projectNode(doc map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, 2)
	for _, k := range []string{"uid", "name"} {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out
}

// encodeRows marshals query results, always as an array
func encodeRows(rows []map[string]json.RawMessage) ([]byte, error) {
	if rows == nil {
		rows = []map[string]json.RawMessage{}
	}
	return json.Marshal(rows)
}
