package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityRepository answers existence checks for the business records that
// own uploaded files.
type EntityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository constructs a repository.
func NewEntityRepository(pool *pgxpool.Pool) *EntityRepository {
	return &EntityRepository{pool: pool}
}

// Exists reports whether the entity is registered.
func (r *EntityRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("select entity: %w", err)
	}
	return exists, nil
}

// Create registers an entity. Registering an existing id is a no-op.
func (r *EntityRepository) Create(ctx context.Context, id, kind string) error {
	if kind == "" {
		kind = "generic"
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO entities (id, kind) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, kind)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// EntityChecker is the existence capability CachedEntities decorates.
type EntityChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CachedEntities remembers positive existence answers in a bounded LRU with
// TTL eviction. Negative answers are never cached so a freshly created
// entity is visible immediately.
type CachedEntities struct {
	next  EntityChecker
	cache *expirable.LRU[string, struct{}]
}

// NewCachedEntities wraps next with a cache of size entries living ttl.
func NewCachedEntities(next EntityChecker, size int, ttl time.Duration) *CachedEntities {
	return &CachedEntities{
		next:  next,
		cache: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// Exists consults the cache before the wrapped checker.
func (c *CachedEntities) Exists(ctx context.Context, id string) (bool, error) {
	if _, ok := c.cache.Get(id); ok {
		return true, nil
	}
	ok, err := c.next.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		c.cache.Add(id, struct{}{})
	}
	return ok, nil
}
