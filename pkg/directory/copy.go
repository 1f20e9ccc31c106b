package directory

import (
	"context"

	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/query"
	"github.com/ha1tch/friendgraph/pkg/record"
	"github.com/ha1tch/friendgraph/pkg/storage"
)

// CopyStats summarizes a Copy
type CopyStats struct {
	People int
	Edges  int
	// Dangling counts friend references whose target was not copied
	Dangling int
}

// Copy recreates every person of src in dst. Identifiers are minted by
// dst, so friend references are rewritten through the old to new uid map
// once every person exists.
func Copy(ctx context.Context, src, dst storage.Store) (CopyStats, error) {
	var stats CopyStats

	raw, err := src.Query(ctx, query.AllPeople())
	if err != nil {
		return stats, apperrors.Store("failed to read source", err)
	}
	people, err := record.DecodePeople(raw)
	if err != nil {
		return stats, err
	}

	committer := record.NewCommitter(dst)
	uids := make(map[string]string, len(people))

	for i := range people {
		p := people[i].Clone()
		old := p.GetUID()
		p.UID = nil
		p.Friends = nil
		// Nested node identifiers belong to the source store
		if p.Discord != nil {
			p.Discord.UID = ""
		}
		if p.Instagram != nil {
			p.Instagram.UID = ""
		}
		if p.X != nil {
			p.X.UID = ""
		}
		for j := range p.School {
			p.School[j].UID = ""
		}

		uid, err := committer.Commit(ctx, p)
		if err != nil {
			return stats, err
		}
		uids[old] = uid
		stats.People++
	}

	for i := range people {
		if len(people[i].Friends) == 0 {
			continue
		}
		friends := make([]models.Friend, 0, len(people[i].Friends))
		for _, f := range people[i].Friends {
			target, ok := uids[f.UID]
			if !ok {
				target = f.UID
				stats.Dangling++
			}
			friends = append(friends, models.Friend{UID: target})
		}

		p := &models.Person{
			UID:     models.String(uids[people[i].GetUID()]),
			Friends: friends,
		}
		if _, err := committer.Commit(ctx, p); err != nil {
			return stats, err
		}
		stats.Edges += len(friends)
	}

	return stats, nil
}
