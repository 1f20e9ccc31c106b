// Package record holds the record synchronization core: the wire codec,
// the merge updater and the upsert committer.
package record

import (
	"encoding/json"

	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/models"
)

// Encode serializes a person into the store's JSON wire format. Each
// attribute named in cleared that the person does not carry is sent as null,
// which deletes it from the stored node.
func Encode(p *models.Person, cleared ...string) ([]byte, error) {
	if p == nil {
		return nil, apperrors.Serialization("cannot encode empty record", nil)
	}
	data, err := json.Marshal(Normalize(p.Clone()))
	if err != nil {
		return nil, apperrors.Serialization("failed to encode record", err)
	}
	if len(cleared) == 0 {
		return data, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Serialization("failed to encode record", err)
	}
	for _, key := range cleared {
		if _, ok := doc[key]; !ok {
			doc[key] = json.RawMessage("null")
		}
	}
	if data, err = json.Marshal(doc); err != nil {
		return nil, apperrors.Serialization("failed to encode record", err)
	}
	return data, nil
}

// DecodePeople parses a query result into people
func DecodePeople(raw []byte) ([]models.Person, error) {
	var people []models.Person
	if err := json.Unmarshal(raw, &people); err != nil {
		return nil, apperrors.Serialization("failed to decode records", err)
	}
	for i := range people {
		Normalize(&people[i])
	}
	if people == nil {
		people = []models.Person{}
	}
	return people, nil
}

// DecodeFirst parses a query result and returns its first record, or nil
// when the result is empty
func DecodeFirst(raw []byte) (*models.Person, error) {
	people, err := DecodePeople(raw)
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, nil
	}
	return &people[0], nil
}

// DecodeNodes parses a node scan
func DecodeNodes(raw []byte) ([]models.Node, error) {
	var nodes []models.Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, apperrors.Serialization("failed to decode nodes", err)
	}
	return nodes, nil
}

// Normalize turns empty lists into absent ones. The graph stores cannot
// hold an empty list, so both read back the same.
func Normalize(p *models.Person) *models.Person {
	if len(p.School) == 0 {
		p.School = nil
	}
	if len(p.Friends) == 0 {
		p.Friends = nil
	}
	if len(p.Misc) == 0 {
		p.Misc = nil
	}
	return p
}
