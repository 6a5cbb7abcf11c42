package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmstools/nmssave/pkg/keymap"
)

const remoteDoc = `{"libMBIN_version":"5.52.0.1","Mapping":[{"Key":"F2P","Value":"Version"},{"Key":"8>q","Value":"Platform"}]}`

type fakeRemote struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
	body   atomic.Value
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{}
	f.status.Store(http.StatusOK)
	f.body.Store(remoteDoc)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(int(f.status.Load()))
		_, _ = w.Write([]byte(f.body.Load().(string)))
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestProvider(t *testing.T, remote *fakeRemote, opts ...Option) *Provider {
	t.Helper()
	all := append([]Option{WithURL(remote.URL), WithCacheDir(t.TempDir())}, opts...)
	p := NewProvider(all...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestExplicitFile(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote)
	dir := t.TempDir()

	bare := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(bare, []byte(`[{"Key":"a","Value":"Alpha"}]`), 0644))
	res, err := p.Resolve(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, res.Source)
	assert.Equal(t, keymap.Mapping{{Key: "a", Value: "Alpha"}}, res.Mapping)

	wrapped := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(wrapped, []byte(remoteDoc), 0644))
	m, err := p.Get(context.Background(), wrapped)
	require.NoError(t, err)
	assert.Len(t, m, 2)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"Mapping":[`), 0644))
	_, err = p.Get(context.Background(), broken)
	assert.Error(t, err)

	_, err = p.Get(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	assert.Zero(t, remote.hits.Load(), "explicit files never touch the network")
}

func TestDownloadThenCache(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote)
	ctx := context.Background()

	res, err := p.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, "5.52.0.1", res.Version)
	assert.Len(t, res.Mapping, 2)

	data, err := os.ReadFile(p.CachePath())
	require.NoError(t, err)
	var cached cacheFile
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Equal(t, "5.52.0.1", cached.LibMBINVersion)
	assert.NotEmpty(t, cached.CachedAt)
	assert.Equal(t, res.Mapping, cached.Mapping)
	assert.True(t, p.CacheFresh())

	res, err = p.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), remote.hits.Load(), "second call is served from cache")
}

func TestBareArrayRemote(t *testing.T) {
	remote := newFakeRemote(t)
	remote.body.Store(`[{"Key":"F2P","Value":"Version"}]`)
	p := newTestProvider(t, remote)

	res, err := p.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "cached", res.Version)
	assert.Len(t, res.Mapping, 1)
}

func TestStaleCacheRefreshes(t *testing.T) {
	remote := newFakeRemote(t)
	now := time.Now()
	p := newTestProvider(t, remote, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := p.Get(ctx, "")
	require.NoError(t, err)

	now = now.Add(DefaultMaxAge + time.Hour)
	assert.False(t, p.CacheFresh())

	res, err := p.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, int32(2), remote.hits.Load())
}

func TestStaleCacheFallback(t *testing.T) {
	remote := newFakeRemote(t)
	now := time.Now()
	p := newTestProvider(t, remote, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := p.Get(ctx, "")
	require.NoError(t, err)

	now = now.Add(30 * 24 * time.Hour)
	remote.status.Store(http.StatusBadGateway)

	res, err := p.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceStaleCache, res.Source)
	assert.Len(t, res.Mapping, 2)
}

func TestUnavailable(t *testing.T) {
	remote := newFakeRemote(t)
	remote.status.Store(http.StatusNotFound)
	p := newTestProvider(t, remote)

	_, err := p.Get(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMappingUnavailable))
}

func TestEmptyRemoteIsFailure(t *testing.T) {
	remote := newFakeRemote(t)
	remote.body.Store(`{"Mapping":[]}`)
	p := newTestProvider(t, remote)

	_, err := p.Get(context.Background(), "")
	assert.True(t, errors.Is(err, ErrMappingUnavailable))
}

func TestInvalidCacheIsIgnored(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote)
	require.NoError(t, os.WriteFile(p.CachePath(), []byte(`{"Mapping":[]}`), 0644))

	assert.False(t, p.CacheFresh(), "an empty cache is not valid")
	res, err := p.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestWithoutCache(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote, WithoutCache())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.Resolve(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, SourceRemote, res.Source)
	}
	assert.Equal(t, int32(2), remote.hits.Load())
	_, err := os.Stat(p.CachePath())
	assert.True(t, errors.Is(err, os.ErrNotExist), "cache is never written")
}

func TestClearCache(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote)

	removed, err := p.ClearCache()
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = p.Get(context.Background(), "")
	require.NoError(t, err)

	removed, err = p.ClearCache()
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = p.ClearCache()
	require.NoError(t, err)
	assert.False(t, removed, "clearing twice is harmless")
}

func TestCanceledContext(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote, WithoutCache())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Get(ctx, "")
	assert.True(t, errors.Is(err, ErrMappingUnavailable))
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "stale-cache", SourceStaleCache.String())
	assert.Equal(t, "unknown", Source(42).String())
}

func TestRefreshRewritesFreshCache(t *testing.T) {
	remote := newFakeRemote(t)
	p := newTestProvider(t, remote)
	ctx := context.Background()

	_, err := p.Get(ctx, "")
	require.NoError(t, err)
	require.True(t, p.CacheFresh())

	remote.body.Store(`{"libMBIN_version":"6.0.0.1","Mapping":[{"Key":"F2P","Value":"Version"}]}`)
	res, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6.0.0.1", res.Version)
	assert.Equal(t, int32(2), remote.hits.Load())

	cached, err := p.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, cached.Source)
	assert.Equal(t, "6.0.0.1", cached.Version)

	remote.status.Store(http.StatusBadGateway)
	_, err = p.Refresh(ctx)
	assert.ErrorIs(t, err, ErrMappingUnavailable)
}
