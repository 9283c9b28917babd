// Package directory answers whether a project exists, which decides whether
// its chat room may be joined. Project records belong to the CRUD service;
// this package only reads them.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory reports whether a project exists.
type Directory interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// Postgres looks projects up in the projects table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres directory.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Exists(ctx context.Context, projectID string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("directory: exists %s: %w", projectID, err)
	}
	return ok, nil
}

// CacheKeyPrefix prefixes cached positive lookups in Redis.
const CacheKeyPrefix = "chat:project:"

// Cached remembers positive answers in Redis for ttl. Negative answers are
// never cached so a freshly created project is joinable at once. Redis
// failures fall through to the wrapped directory.
type Cached struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
}

// NewCached wraps next with a Redis cache.
func NewCached(next Directory, client *redis.Client, ttl time.Duration) *Cached {
	return &Cached{next: next, client: client, ttl: ttl}
}

func (c *Cached) Exists(ctx context.Context, projectID string) (bool, error) {
	key := CacheKeyPrefix + projectID
	if n, err := c.client.Exists(ctx, key).Result(); err == nil && n == 1 {
		return true, nil
	}
	ok, err := c.next.Exists(ctx, projectID)
	if err != nil || !ok {
		return ok, err
	}
	c.client.Set(ctx, key, 1, c.ttl)
	return true, nil
}

// Static is a fixed set of projects, for tests and local runs without a
// CRUD database.
type Static struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStatic creates a Static directory holding ids.
func NewStatic(ids ...string) *Static {
	s := &Static{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add registers a project.
func (s *Static) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Static) Exists(_ context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[projectID]
	return ok, nil
}
