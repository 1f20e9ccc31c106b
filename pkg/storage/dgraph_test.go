package storage

import (
	"context"
	"testing"

	"github.com/ha1tch/friendgraph/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMutation_ExistingNodeReplacesLists(t *testing.T) {
	set, del, err := splitMutation([]byte(`{
		"uid": "0x1",
		"email": "ada@x.io",
		"instagram": {"uid": "0x5", "handle": "ada.ig"},
		"school": [{"uid": "0x6", "name": "Vassar", "schooltype": "College"}],
		"misc": null
	}`))
	require.NoError(t, err)

	assert.JSONEq(t, `[{
		"uid": "0x1",
		"email": "ada@x.io",
		"instagram": {"uid": "0x5", "handle": "ada.ig"},
		"school": [{"uid": "0x6", "name": "Vassar", "schooltype": "College"}]
	}]`, string(set))
	assert.JSONEq(t, `[{"uid": "0x1", "school": null, "misc": null}]`, string(del))
}

func TestSplitMutation_NewNodeHasNothingToDelete(t *testing.T) {
	set, del, err := splitMutation([]byte(`{"uid": "_:ada", "name": "Ada", "misc": ["a"], "email": null}`))
	require.NoError(t, err)

	assert.JSONEq(t, `[{"uid": "_:ada", "name": "Ada", "misc": ["a"]}]`, string(set))
	assert.Nil(t, del)
}

func TestSplitMutation_Invalid(t *testing.T) {
	_, _, err := splitMutation([]byte(`"ada"`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDgraphStore_MalformedUIDMatchesNothing(t *testing.T) {
	// No connection: the query must be answered before reaching the server
	store := &DgraphStore{}

	for _, uid := range []string{"abc", "", "_:ada", "0x", "0xzz", "1 OR 1"} {
		raw, err := store.Query(context.Background(), query.PersonByUID(uid))
		require.NoError(t, err, uid)
		assert.Equal(t, "[]", string(raw), uid)
	}

	assert.True(t, validDgraphUID.MatchString("0x1f"))
	assert.True(t, validDgraphUID.MatchString("31"))
}
