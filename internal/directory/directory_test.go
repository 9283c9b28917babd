package directory

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/db"
)

type countingDirectory struct {
	Directory
	calls atomic.Int32
}

func (c *countingDirectory) Exists(ctx context.Context, id string) (bool, error) {
	c.calls.Add(1)
	return c.Directory.Exists(ctx, id)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic("p1")

	ok, err := s.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Exists(ctx, "p2")
	assert.False(t, ok)
	s.Add("p2")
	ok, _ = s.Exists(ctx, "p2")
	assert.True(t, ok)
}

func TestCachedRemembersOnlyPositiveAnswers(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	id := "test-" + uuid.New().String()
	t.Cleanup(func() { client.Del(ctx, CacheKeyPrefix+id) })

	static := NewStatic()
	inner := &countingDirectory{Directory: static}
	c := NewCached(inner, client, time.Minute)

	ok, err := c.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	static.Add(id)
	ok, err = c.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok, "a miss is not cached")

	ok, err = c.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("postgres not available: TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer conn.Close()
	require.NoError(t, db.Migrate(dsn))

	id := uuid.New().String()
	_, err = conn.ExecContext(ctx, `INSERT INTO projects (id, title) VALUES ($1, 'Short film')`, id)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Exec(`DELETE FROM projects WHERE id = $1`, id) })

	d := NewPostgres(conn)
	ok, err := d.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Exists(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.False(t, ok)
}
