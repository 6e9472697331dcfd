package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-sync/internal/config"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	env := NewStatic(config.Network{
		IsNetwork:       true,
		IsNetworkActive: true,
		Blogs: []config.Blog{
			{ID: 3, URL: "https://c.test"},
			{ID: 1, URL: "https://a.test", Title: "A"},
		},
	}, config.Module{Version: "1.2.0"})

	assert.True(t, env.IsNetwork())
	assert.True(t, env.IsNetworkActive())
	assert.Equal(t, int64(1), env.MainBlogID())

	ids, err := env.BlogIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	d, err := env.InstallData(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", d.Title)
	assert.Equal(t, "1.2.0", d.Version)

	env.SetURL(1, "https://moved.test")
	url, err := env.SiteURL(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://moved.test", url)

	_, err = env.SiteURL(ctx, 9)
	assert.Error(t, err)
}

func TestStatic_NetworkActiveRequiresNetwork(t *testing.T) {
	env := NewStatic(config.Network{IsNetworkActive: true}, config.Module{})
	assert.False(t, env.IsNetworkActive())
}
