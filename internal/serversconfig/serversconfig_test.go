package serversconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
)

func routes(pairs ...string) []routespec.Route {
	var rs []routespec.Route
	for i := 0; i+1 < len(pairs); i += 2 {
		rs = append(rs, routespec.Route{Prefix: pairs[i], URL: routespec.ServerURL(pairs[i+1])})
	}
	return rs
}

func TestBuild_SingleServer(t *testing.T) {
	cfg, err := Build(routes("", "http://only:8001/"), []byte("* http://only:8001/\n"))
	require.NoError(t, err)

	assert.Equal(t, routespec.ServerURL("http://only:8001/"), cfg.Match(0))
	assert.Equal(t, routespec.ServerURL("http://only:8001/"), cfg.FirstServerURL())
	_, ok := cfg.Successor("http://only:8001/")
	assert.False(t, ok, "single server has no successor")
	assert.Len(t, cfg.version, 32)
}

func TestBuild_SuccessorChain(t *testing.T) {
	cfg, err := Build(routes("0", "http://b:8001/", "1", "http://a:8001/"), []byte("cfg"))
	require.NoError(t, err)

	first := cfg.FirstServerURL()
	visited := map[routespec.ServerURL]bool{first: true}
	u := first
	for {
		next, ok := cfg.Successor(u)
		if !ok {
			break
		}
		assert.False(t, visited[next], "successor chain must not revisit a server")
		visited[next] = true
		u = next
	}
	assert.Len(t, visited, 2, "successor chain must cover every server exactly once")
}

func TestBuild_MinIDCorrectness(t *testing.T) {
	cfg, err := Build(routes("0", "http://a:8001/", "1", "http://b:8001/"), []byte("cfg"))
	require.NoError(t, err)

	for _, u := range []routespec.ServerURL{"http://a:8001/", "http://b:8001/"} {
		minID, ok := cfg.MinID(u)
		require.True(t, ok)
		assert.Equal(t, u, cfg.Match(numeric.ShardKey(minID)))
		for i := int64(numeric.MinI64); i < minID; i++ {
			assert.NotEqual(t, u, cfg.Match(numeric.ShardKey(i)))
		}
	}
}

func TestBuild_VersionIsHexMD5OfRawBytes(t *testing.T) {
	cfg1, err := Build(routes("", "http://only:8001/"), []byte("same bytes"))
	require.NoError(t, err)
	cfg2, err := Build(routes("", "http://only:8001/"), []byte("same bytes"))
	require.NoError(t, err)
	cfg3, err := Build(routes("", "http://only:8001/"), []byte("different bytes"))
	require.NoError(t, err)

	assert.Equal(t, cfg1.Version(), cfg2.Version())
	assert.NotEqual(t, cfg1.Version(), cfg3.Version())
}

func TestBuild_PropagatesTrieErrors(t *testing.T) {
	_, err := Build(routes("0", "http://a:8001/"), []byte("cfg"))
	assert.Error(t, err)
}
