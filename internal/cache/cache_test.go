package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedTitle struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func Test_Noop_AlwaysLoads(t *testing.T) {
	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return cachedTitle{ID: 1, Title: "Dune"}, nil
	}

	for i := 0; i < 2; i++ {
		b, err := Noop{}.GetOrLoad(context.Background(), "title:1", time.Minute, load)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1,"title":"Dune"}`, string(b))
	}
	assert.Equal(t, 2, calls)
	assert.NoError(t, Noop{}.Delete(context.Background(), "title:1"))
}

func Test_Noop_PropagatesLoadError(t *testing.T) {
	boom := errors.New("boom")

	_, err := Noop{}.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) (any, error) { return nil, boom })

	assert.ErrorIs(t, err, boom)
}

func Test_Redis_ReadThroughAndDelete(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedis(ctx, url, "test:"+uuid.NewString()+":")
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return cachedTitle{ID: 2, Title: "Solaris"}, nil
	}

	_, err = c.GetOrLoad(ctx, "title:2", time.Minute, load)
	require.NoError(t, err)
	b, err := c.GetOrLoad(ctx, "title:2", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"id":2,"title":"Solaris"}`, string(b))

	require.NoError(t, c.Delete(ctx, "title:2"))
	_, err = c.GetOrLoad(ctx, "title:2", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
