package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/storage"
)

// Committer persists people as single-record upserts
type Committer struct {
	store    storage.Store
	newLabel func() string
}

// NewCommitter creates a committer writing to store
func NewCommitter(store storage.Store) *Committer {
	return &Committer{store: store, newLabel: NewLabel}
}

// NewLabel mints a correlation label for a record without an identifier
func NewLabel() string {
	return "p" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Commit writes person in one transaction and returns the identifier the
// caller should use from now on.
//
// A person without a uid is sent under a freshly minted placeholder; a
// client-chosen placeholder is sent as is. Either way the store's answer
// is looked up under the exact label that was sent, and a minted
// identifier is written back into person. When nothing was minted (an
// update of a permanent record) the existing uid is returned. Attributes
// named in cleared are deleted from the stored node when person lacks them.
func (c *Committer) Commit(ctx context.Context, person *models.Person, cleared ...string) (string, error) {
	if person == nil {
		return "", apperrors.Serialization("cannot commit empty record", nil)
	}

	original := person.UID
	minted := false
	var label string
	switch {
	case person.GetUID() == "":
		label = c.newLabel()
		minted = true
	case models.IsPlaceholder(person.GetUID()):
		label = models.Label(person.GetUID())
	}

	payload := person.Clone()
	if minted {
		payload.UID = models.String(models.Placeholder(label))
	}
	data, err := Encode(payload, cleared...)
	if err != nil {
		return "", err
	}

	assigned, err := c.mutate(ctx, data)
	if err != nil {
		return "", err
	}

	if label != "" {
		if uid, ok := assigned[label]; ok {
			person.UID = models.String(uid)
			return uid, nil
		}
		if minted {
			return "", apperrors.Commit("store assigned no identifier",
				fmt.Errorf("label %q missing from response", label))
		}
	}
	return *original, nil
}

func (c *Committer) mutate(ctx context.Context, data []byte) (map[string]string, error) {
	txn, err := c.store.NewTxn(ctx)
	if err != nil {
		return nil, apperrors.Commit("failed to open transaction", err)
	}
	defer txn.Discard(ctx)

	assigned, err := txn.Mutate(ctx, storage.Mutation{SetJSON: data})
	if err != nil {
		return nil, apperrors.Commit("mutation rejected", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, apperrors.Commit("failed to commit", err)
	}

	if assigned == nil {
		return nil, nil
	}
	return assigned.UIDs, nil
}
