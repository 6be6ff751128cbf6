package dispatch

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaptacular/swpt-apiproxy/internal/mode"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
	"github.com/swaptacular/swpt-apiproxy/internal/watcher"
)

func nullLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

type stubEnv map[string]string

func (e stubEnv) Lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

func creditorsMode(t *testing.T) mode.Mode {
	t.Helper()
	m, err := mode.FromEnv(stubEnv{
		"MIN_CREDITOR_ID": "0",
		"MAX_CREDITOR_ID": "1000",
	})
	require.NoError(t, err)
	return m
}

// loadConfig writes contents to a fresh temp config file and returns a
// live watcher.Current publishing it, the same path the real process
// uses to populate the dispatcher.
func loadConfig(t *testing.T, contents string) *watcher.Current {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "apiproxy.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	current := watcher.NewCurrent()
	w, err := watcher.New(path, watcher.ParseLines(nullLogger()), current, nullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w })
	return current
}

func TestDispatcher_NoConfigYieldsBadGateway(t *testing.T) {
	d := New(creditorsMode(t), watcher.NewCurrent(), 1000, 1000, nullLogger())

	req := httptest.NewRequest(http.MethodGet, "/creditors/123/", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "can not be forwarded")
}

func TestDispatcher_UnknownPathYieldsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	current := loadConfig(t, fmt.Sprintf("* %s/\n", upstream.URL))
	d := New(creditorsMode(t), current, 1000, 1000, nullLogger())

	req := httptest.NewRequest(http.MethodGet, "/nonsense", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDispatcher_ForwardsToSingleServer(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	current := loadConfig(t, fmt.Sprintf("* %s/\n", upstream.URL))
	d := New(creditorsMode(t), current, 1000, 1000, nullLogger())

	req := httptest.NewRequest(http.MethodGet, "/creditors/123/", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "/creditors/123/", gotPath)
}

func TestDispatcher_RoutesAcrossTwoServers(t *testing.T) {
	var hitA, hitB bool
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitA = true
		w.WriteHeader(http.StatusOK)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitB = true
		w.WriteHeader(http.StatusOK)
	}))
	defer b.Close()

	current := loadConfig(t, fmt.Sprintf("0.* %s/\n1.* %s/\n", a.URL, b.URL))
	cfg, ok := current.Load()
	require.True(t, ok)

	d := New(creditorsMode(t), current, 1000, 1000, nullLogger())

	minA, ok := cfg.MinID(routespec.ServerURL(a.URL + "/"))
	require.True(t, ok)
	minB, ok := cfg.MinID(routespec.ServerURL(b.URL + "/"))
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/creditors/%d/", uint64(minA)), nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/creditors/%d/", uint64(minB)), nil)
	rec2 := httptest.NewRecorder()
	d.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	assert.True(t, hitA)
	assert.True(t, hitB)
}

func TestDispatcher_ReservePathShortCircuits(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"type":"CreditorReservationRequest"}`))
	}))
	defer upstream.Close()

	current := loadConfig(t, fmt.Sprintf("* %s/\n", upstream.URL))
	d := New(creditorsMode(t), current, 1000, 1000, nullLogger())

	req := httptest.NewRequest(http.MethodPost, "/creditors/.creditor-reserve", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDispatcher_EnumerateRewritesPage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"type":"ObjectReferencesPage","uri":"/creditors/123/enumerate","items":[]}`))
	}))
	defer upstream.Close()

	current := loadConfig(t, fmt.Sprintf("* %s/\n", upstream.URL))
	d := New(creditorsMode(t), current, 1000, 1000, nullLogger())

	req := httptest.NewRequest(http.MethodGet, "/creditors/123/enumerate", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uri":"/creditors/123/enumerate?v=`)
	assert.NotContains(t, rec.Body.String(), `"next"`)
}

func TestDispatcher_UpstreamTransportErrorIsBadGateway(t *testing.T) {
	current := loadConfig(t, "* http://127.0.0.1:1/\n")
	d := New(creditorsMode(t), current, 200, 200, nullLogger())

	req := httptest.NewRequest(http.MethodGet, "/creditors/123/", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
