// Package directory ties the record core to the store, the name index and
// the response cache. Every exported operation returns apperrors kinds.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/cache"
	"github.com/ha1tch/friendgraph/pkg/index"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/query"
	"github.com/ha1tch/friendgraph/pkg/record"
	"github.com/ha1tch/friendgraph/pkg/storage"
	"github.com/ha1tch/friendgraph/pkg/validation"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options tunes a Directory
type Options struct {
	StoreTimeout time.Duration
	CacheTTL     time.Duration
}

// Directory is the people directory
type Directory struct {
	store     storage.Store
	cache     cache.Cache
	validator validation.Validator
	index     *index.Index
	committer *record.Committer
	locks     *record.Locks
	reads     singleflight.Group
	opts      Options
	logger    zerolog.Logger

	// gen counts writes. A read stores its result in the cache only if no
	// write landed while it ran.
	genMu sync.Mutex
	gen   uint64
}

// New creates a directory. A nil cache disables response caching and a
// nil validator accepts every record.
func New(
	store storage.Store,
	c cache.Cache,
	v validation.Validator,
	logger zerolog.Logger,
	opts Options,
) *Directory {
	if v == nil {
		v = validation.NewNoOpValidator()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Directory{
		store:     store,
		cache:     c,
		validator: v,
		index:     index.New(),
		committer: record.NewCommitter(store),
		locks:     record.NewLocks(),
		opts:      opts,
		logger:    logger.With().Str("component", "directory").Logger(),
	}
}

// Index returns the name index
func (d *Directory) Index() *index.Index {
	return d.index
}

// Ready reports whether bootstrap has completed
func (d *Directory) Ready() bool {
	return d.index.IsReady()
}

// BootstrapOptions controls the startup phase
type BootstrapOptions struct {
	// Reset wipes the store and reinstalls the schema first
	Reset bool
	// Seed names are ensured to exist before the index is built
	Seed []string
}

// Bootstrap prepares the store and builds the name index. The directory
// reports ready only after it returns successfully.
func (d *Directory) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	if opts.Reset {
		sctx, cancel := d.storeContext(ctx)
		err := storage.Reset(sctx, d.store)
		cancel()
		if err != nil {
			return apperrors.Store("failed to reset store", err)
		}
		d.logger.Info().Msg("Store reset and schema installed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range opts.Seed {
		name := name
		g.Go(func() error {
			uid, err := d.Ensure(gctx, name)
			if err != nil {
				return fmt.Errorf("seed %q: %w", name, err)
			}
			d.logger.Debug().Str("name", name).Str("uid", uid).Msg("Seeded person")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sctx, cancel := d.storeContext(ctx)
	defer cancel()
	raw, err := d.store.Query(sctx, query.AllNodes())
	if err != nil {
		return apperrors.Store("failed to scan nodes", err)
	}
	nodes, err := record.DecodeNodes(raw)
	if err != nil {
		return err
	}

	d.index.Load(nodes)
	d.logger.Info().Int("nodes", len(nodes)).Int("names", d.index.Len()).Msg("Name index loaded")
	return nil
}

// People returns the people named name, or everyone when name is empty.
// Results are cached and identical concurrent reads share one store call.
func (d *Directory) People(ctx context.Context, name string) ([]models.Person, error) {
	if name == "" {
		return d.people(ctx, cache.PeopleKey(""), query.AllPeople())
	}
	return d.Named(ctx, name)
}

// Named returns the people whose name is exactly name. Unlike People, an
// empty name filters on the empty name and matches nobody who passed
// validation.
func (d *Directory) Named(ctx context.Context, name string) ([]models.Person, error) {
	return d.people(ctx, cache.NamedKey(name), query.PersonByName(name))
}

func (d *Directory) people(ctx context.Context, key string, q query.Query) ([]models.Person, error) {
	if people, ok := d.cached(ctx, key); ok {
		return people, nil
	}

	// Calls that start after a write never join a read begun before it
	gen := d.generation()
	v, err, _ := d.reads.Do(fmt.Sprintf("%s@%d", q.Key(), gen), func() (interface{}, error) {
		people, err := d.query(ctx, q)
		if err != nil {
			return nil, err
		}
		d.remember(ctx, key, gen, people)
		return people, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Person), nil
}

// UID resolves a name to the identifier of a person with that name. The
// name index answers first; it keeps the most recently indexed person per
// name, so with duplicate names this can differ from the first match in
// store order, which is only used when the index has no entry.
func (d *Directory) UID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperrors.MissingParameter("user")
	}
	if uid, ok := d.index.Resolve(name); ok {
		return uid, nil
	}

	p, err := d.first(ctx, query.PersonByName(name))
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", apperrors.NotFound("no user named %q", name)
	}

	uid := p.GetUID()
	d.index.Insert(name, uid)
	return uid, nil
}

// Person fetches a person by identifier
func (d *Directory) Person(ctx context.Context, uid string) (*models.Person, error) {
	if uid == "" {
		return nil, apperrors.MissingParameter("uid")
	}
	p, err := d.first(ctx, query.PersonByUID(uid))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("no user with uid %q", uid)
	}
	return p, nil
}

// Add stores a new person and returns its identifier. A record carrying
// a permanent uid is upserted instead.
func (d *Directory) Add(ctx context.Context, p *models.Person) (string, error) {
	if p == nil || strings.TrimSpace(p.GetName()) == "" {
		return "", apperrors.MissingParameter("name")
	}
	if err := d.validate(p); err != nil {
		return "", err
	}

	if p.HasPermanentUID() {
		unlock := d.locks.Lock(p.GetUID())
		defer unlock()
	}

	uid, err := d.commit(ctx, p)
	if err != nil {
		return "", err
	}
	d.index.Insert(p.GetName(), uid)
	d.invalidate(ctx)

	d.logger.Info().Str("uid", uid).Str("name", p.GetName()).Msg("Person added")
	return uid, nil
}

// Ensure returns the identifier of the first person named name, creating
// the person when nobody has that name
func (d *Directory) Ensure(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperrors.MissingParameter("name")
	}

	unlock := d.locks.Lock("name:" + name)
	defer unlock()

	uid, err := d.UID(ctx, name)
	if err == nil {
		return uid, nil
	}
	if !apperrors.Is(err, apperrors.KindNotFound) {
		return "", err
	}

	p := &models.Person{Name: models.String(name)}
	uid, err = d.commit(ctx, p)
	if err != nil {
		return "", err
	}
	d.index.Insert(name, uid)
	d.invalidate(ctx)
	return uid, nil
}

// Update merges patch into the person with the given identifier and
// returns the stored record
func (d *Directory) Update(ctx context.Context, uid string, patch *record.Patch) (*models.Person, error) {
	if uid == "" {
		return nil, apperrors.MissingParameter("uid")
	}

	unlock := d.locks.Lock(uid)
	defer unlock()

	p, err := d.Person(ctx, uid)
	if err != nil {
		return nil, err
	}
	return d.apply(ctx, p, patch)
}

// UpdateByName is Update on the first person named name
func (d *Directory) UpdateByName(ctx context.Context, name string, patch *record.Patch) (*models.Person, error) {
	uid, err := d.UID(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.Update(ctx, uid, patch)
}

func (d *Directory) apply(ctx context.Context, p *models.Person, patch *record.Patch) (*models.Person, error) {
	if patch == nil {
		patch = record.NewPatch()
	}
	oldName := p.GetName()
	if err := patch.Apply(p); err != nil {
		return nil, err
	}
	if err := d.validate(p); err != nil {
		return nil, err
	}

	uid, err := d.commit(ctx, p, patch.Clears()...)
	if err != nil {
		return nil, err
	}
	if name := p.GetName(); name != oldName {
		d.index.Forget(oldName, uid)
		d.index.Insert(name, uid)
	}
	d.invalidate(ctx)

	d.logger.Info().Str("uid", uid).Int("fields", len(patch.Fields())).Msg("Person updated")
	return p, nil
}

// AddFriend appends a directed friend reference to a person. Appends are
// neither deduplicated nor mirrored on the friend.
func (d *Directory) AddFriend(ctx context.Context, uid, friend string) (string, error) {
	if uid == "" {
		return "", apperrors.MissingParameter("uid")
	}
	if friend == "" {
		return "", apperrors.MissingParameter("friend")
	}

	unlock := d.locks.Lock(uid)
	defer unlock()

	p, err := d.Person(ctx, uid)
	if err != nil {
		return "", err
	}
	p.Friends = append(p.Friends, models.Friend{UID: friend})

	result, err := d.commit(ctx, p)
	if err != nil {
		return "", err
	}
	d.invalidate(ctx)

	d.logger.Info().Str("uid", uid).Str("friend", friend).Int("friends", len(p.Friends)).Msg("Friend added")
	return result, nil
}

func (d *Directory) commit(ctx context.Context, p *models.Person, cleared ...string) (string, error) {
	sctx, cancel := d.storeContext(ctx)
	defer cancel()

	uid, err := d.committer.Commit(sctx, p, cleared...)
	if err != nil {
		d.logger.Error().Err(err).Str("uid", p.GetUID()).Msg("Commit failed")
		return "", err
	}
	return uid, nil
}

func (d *Directory) validate(p *models.Person) error {
	if valid, errs := d.validator.Validate(p); !valid {
		return apperrors.Validation("invalid record", errors.New(strings.Join(errs, "; ")))
	}
	return nil
}

func (d *Directory) first(ctx context.Context, q query.Query) (*models.Person, error) {
	people, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, nil
	}
	if len(people) > 1 {
		d.logger.Debug().Str("query", q.Key()).Int("matches", len(people)).Msg("Several matches, using the first")
	}
	return &people[0], nil
}

func (d *Directory) query(ctx context.Context, q query.Query) ([]models.Person, error) {
	sctx, cancel := d.storeContext(ctx)
	defer cancel()

	raw, err := d.store.Query(sctx, q)
	if err != nil {
		d.logger.Error().Err(err).Str("query", q.Key()).Msg("Query failed")
		return nil, apperrors.Store("failed to query people", err)
	}
	return record.DecodePeople(raw)
}

func (d *Directory) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opts.StoreTimeout)
}

func (d *Directory) cached(ctx context.Context, key string) ([]models.Person, bool) {
	if d.cache == nil {
		return nil, false
	}
	data, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			d.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return nil, false
	}

	var people []models.Person
	if err := json.Unmarshal(data, &people); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("Dropping unreadable cache entry")
		d.cache.Delete(ctx, key)
		return nil, false
	}
	return people, true
}

func (d *Directory) generation() uint64 {
	d.genMu.Lock()
	defer d.genMu.Unlock()
	return d.gen
}

// remember caches people under key unless a write has landed since gen
func (d *Directory) remember(ctx context.Context, key string, gen uint64, people []models.Person) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(people)
	if err != nil {
		return
	}

	d.genMu.Lock()
	defer d.genMu.Unlock()
	if d.gen != gen {
		return
	}
	if err := d.cache.Set(ctx, key, data, d.opts.CacheTTL); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// invalidate starts a new write generation and drops every cached listing
func (d *Directory) invalidate(ctx context.Context) {
	d.genMu.Lock()
	defer d.genMu.Unlock()
	d.gen++

	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx, cache.PeoplePrefix); err != nil {
		d.logger.Warn().Err(err).Msg("Cache invalidation failed")
	}
}
