// Package watcher observes the config file for modifications and
// atomically republishes a freshly parsed ServersConfig, using
// fsnotify the way the rest of the retrieved corpus's file-watching
// dependents do.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
	"github.com/swaptacular/swpt-apiproxy/internal/serversconfig"
)

// Parse turns raw config-file bytes into a ServersConfig. Lines are
// logged and skipped on a per-line parse failure; the overall parse
// only fails when the resulting route set doesn't build a valid trie.
type Parse func(raw []byte) (*serversconfig.ServersConfig, error)

// ParseLines implements Parse per spec §4.6's config grammar: blank
// lines are ignored, each non-blank line is parsed as one route, and
// a line that fails to parse is logged and skipped without aborting
// the reload.
func ParseLines(log *logrus.Entry) Parse {
	return func(raw []byte) (*serversconfig.ServersConfig, error) {
		var routes []routespec.Route
		for _, line := range splitLines(string(raw)) {
			if isBlank(line) {
				continue
			}
			r, err := routespec.ParseLine(line)
			if err != nil {
				log.WithError(err).WithField("line", line).Warn("watcher: skipping unparseable config line")
				continue
			}
			routes = append(routes, r)
		}
		return serversconfig.Build(routes, raw)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isBlank(line string) bool {
	for _, r := range line {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}

// Current holds the process-wide atomic pointer to the live
// ServersConfig. A request handler loads it once at entry and keeps
// using that snapshot for the request's whole lifetime, so it never
// observes a torn read and is unaffected by reloads that happen
// mid-request.
type Current struct {
	ptr atomic.Pointer[serversconfig.ServersConfig]
}

// NewCurrent returns an unset Current; Load returns (nil, false)
// until the first successful parse publishes a config.
func NewCurrent() *Current {
	return &Current{}
}

// Load returns the live ServersConfig, or (nil, false) if no valid
// config has ever been published.
func (c *Current) Load() (*serversconfig.ServersConfig, bool) {
	v := c.ptr.Load()
	if v == nil {
		return nil, false
	}
	return v, true
}

func (c *Current) store(cfg *serversconfig.ServersConfig) {
	c.ptr.Store(cfg)
}

// Watcher ties an fsnotify.Watcher to one config file path, reloading
// and publishing into Current on every write/create event.
type Watcher struct {
	path    string
	parse   Parse
	current *Current
	log     *logrus.Entry

	fsw *fsnotify.Watcher
}

// New creates a Watcher for path. It performs one synchronous load
// before returning so Current is populated (if the file is valid) by
// the time New returns.
func New(path string, parse Parse, current *Current, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, parse: parse, current: current, log: log, fsw: fsw}
	w.reload()
	return w, nil
}

// Run watches for filesystem events until ctx is canceled, reloading
// the config on every event that touches the watched file.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("watcher: fsnotify error")
		}
	}
}

// reload re-parses the config file and publishes it on success. A
// missing file is skipped without logging; any other read error or a
// parse failure is logged. In every failure case the previous config
// (if any) is retained.
func (w *Watcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.log.WithError(err).Error("watcher: reading config file")
		}
		return
	}

	cfg, err := w.parse(raw)
	if err != nil {
		w.log.WithError(err).Error("watcher: rejecting invalid config, keeping previous config")
		return
	}

	w.current.store(cfg)
	w.log.WithField("version", cfg.Version()).Info("watcher: published new config")
}
