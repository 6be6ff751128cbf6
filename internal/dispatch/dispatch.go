// Package dispatch implements the request classifier and dispatcher:
// it inspects each inbound request's path, resolves the upstream
// responsible for it, and forwards the request — or, for enumerate
// and reserve paths, self-handles the exchange. Upstream forwarding
// keeps the teacher's approach of one tuned httputil.ReverseProxy per
// backend, built on first use and reused across requests,
// generalized here from a host-keyed map to a ServerURL-keyed one
// resolved through the routing trie instead of a static host table.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swaptacular/swpt-apiproxy/internal/classify"
	"github.com/swaptacular/swpt-apiproxy/internal/enumerate"
	"github.com/swaptacular/swpt-apiproxy/internal/mode"
	"github.com/swaptacular/swpt-apiproxy/internal/reserve"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
	"github.com/swaptacular/swpt-apiproxy/internal/serversconfig"
	"github.com/swaptacular/swpt-apiproxy/internal/watcher"
)

const unreachableBody = "The request can not be forwarded to an Web API server.\n"

// upstreamEntry is a precomputed, reusable forwarding target: a
// ReverseProxy built over a shared, tuned Transport, so repeated
// requests to the same backend reuse pooled connections instead of
// dialing fresh ones.
type upstreamEntry struct {
	proxy *httputil.ReverseProxy
}

// upstreamPool lazily builds and caches one upstreamEntry per backend
// server URL, shared across every request and every config reload —
// the trie changes which URL a key maps to, but a URL that survives a
// reload keeps reusing its existing connections.
type upstreamPool struct {
	mu      sync.RWMutex
	entries map[routespec.ServerURL]*upstreamEntry

	transport    *http.Transport
	proxyTimeout time.Duration
	log          *logrus.Entry
}

func newUpstreamPool(proxyTimeout time.Duration, log *logrus.Entry) *upstreamPool {
	return &upstreamPool{
		entries: make(map[routespec.ServerURL]*upstreamEntry),
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1000,
			MaxIdleConnsPerHost:   250,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		proxyTimeout: proxyTimeout,
		log:          log,
	}
}

func (p *upstreamPool) get(u routespec.ServerURL) (*upstreamEntry, error) {
	p.mu.RLock()
	e, ok := p.entries[u]
	p.mu.RUnlock()
	if ok {
		return e, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[u]; ok {
		return e, nil
	}

	target, err := url.Parse(string(u))
	if err != nil {
		return nil, err
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
		},
		Transport: p.transport,
	}

	e = &upstreamEntry{proxy: proxy}
	p.entries[u] = e
	return e, nil
}

// Dispatcher is the top-level HTTP handler: request classifier plus
// enumerate/reserve self-handling plus upstream forwarding.
type Dispatcher struct {
	mode    mode.Mode
	current *watcher.Current
	pool    *upstreamPool
	client  *http.Client
	log     *logrus.Entry
}

// New builds a Dispatcher for mode m, reading the live ServersConfig
// from current on every request.
func New(m mode.Mode, current *watcher.Current, proxyTimeoutMS, socketTimeoutMS int, log *logrus.Entry) *Dispatcher {
	proxyTimeout := time.Duration(proxyTimeoutMS) * time.Millisecond
	pool := newUpstreamPool(proxyTimeout, log)
	return &Dispatcher{
		mode:    m,
		current: current,
		pool:    pool,
		client: &http.Client{
			Transport: pool.transport,
			Timeout:   time.Duration(socketTimeoutMS) * time.Millisecond,
		},
		log: log,
	}
}

// ServeHTTP implements spec §4.3: reserve short-circuit, classify,
// 502 on an unresolved upstream, enumerate self-handling, or a
// straight forward.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg, ok := d.current.Load()
	if !ok {
		badGateway(w, unreachableBody)
		return
	}

	if d.mode.ReservePath != "" && r.URL.Path == d.mode.ReservePath {
		d.handleReserve(w, r, cfg)
		return
	}

	res, err := classify.Classify(d.mode, r.URL.Path)
	if err != nil {
		d.log.WithError(err).Error("dispatch: classify failed")
		badGateway(w, unreachableBody)
		return
	}
	if !res.HasKey {
		badGateway(w, unreachableBody)
		return
	}

	upstream := cfg.Match(res.ShardKey)
	entry, err := d.pool.get(upstream)
	if err != nil {
		badGateway(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.pool.proxyTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	if res.IsEnumerate {
		snap := enumerate.Snapshot{ConfigVersion: cfg.Version(), ForwardURL: upstream}
		d.forwardAndRewrite(w, r, entry, snap, cfg)
		return
	}

	d.forward(w, r, entry)
}

func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, entry *upstreamEntry) {
	proxy := *entry.proxy
	proxy.ErrorHandler = func(rw http.ResponseWriter, _ *http.Request, err error) {
		badGateway(rw, err.Error())
	}
	proxy.ServeHTTP(w, r)
}

// forwardAndRewrite rewrites an enumerate response per spec §4.4, then
// streams it to the client through the ordinary ReverseProxy copy
// path. The bound on buffered memory lives in modifyEnumerateResponse,
// which runs before the proxy ever writes a byte to w: at most
// enumerate.MaxBufferedBody+1 bytes of the upstream body are ever held
// in memory at once, whether or not the response ends up rewritten.
func (d *Dispatcher) forwardAndRewrite(w http.ResponseWriter, r *http.Request, entry *upstreamEntry, snap enumerate.Snapshot, cfg *serversconfig.ServersConfig) {
	proxy := *entry.proxy
	proxy.ErrorHandler = func(rw http.ResponseWriter, _ *http.Request, err error) {
		badGateway(rw, err.Error())
	}
	proxy.ModifyResponse = d.modifyEnumerateResponse(r, snap, cfg)
	proxy.ServeHTTP(w, r)
}

// modifyEnumerateResponse peeks at most MaxBufferedBody+1 bytes of the
// upstream response. A body that fits is rewritten in place (or, on a
// rewrite error, restored unchanged); a body that overflows the cap is
// left to stream through untouched, its peeked prefix stitched back
// onto the remainder of resp.Body so no byte is lost and nothing past
// the cap is ever buffered.
func (d *Dispatcher) modifyEnumerateResponse(r *http.Request, snap enumerate.Snapshot, cfg *serversconfig.ServersConfig) func(*http.Response) error {
	return func(resp *http.Response) error {
		limited := io.LimitReader(resp.Body, enumerate.MaxBufferedBody+1)
		peeked, err := io.ReadAll(limited)
		if err != nil {
			resp.Body.Close()
			return err
		}

		if len(peeked) > enumerate.MaxBufferedBody {
			d.log.Warn("dispatch: enumerate response exceeds buffering cap, forwarding raw bytes")
			resp.Body = bodyWithPrefix(peeked, resp.Body)
			return nil
		}

		out, err := enumerate.Rewrite(d.mode, resp.StatusCode, resp.Header.Get("Content-Type"), r.URL.RequestURI(), snap, cfg, peeked)
		if err != nil {
			d.log.WithError(err).Warn("dispatch: enumerate rewrite failed, relaying raw body")
			out = peeked
		}

		resp.Body = io.NopCloser(bytes.NewReader(out))
		resp.ContentLength = int64(len(out))
		resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
		return nil
	}
}

// bodyWithPrefix reconstructs a response body reader from bytes
// already read off the front of orig plus whatever orig has left,
// closing orig once both are exhausted.
func bodyWithPrefix(prefix []byte, orig io.ReadCloser) io.ReadCloser {
	return struct {
		io.Reader
		io.Closer
	}{
		Reader: io.MultiReader(bytes.NewReader(prefix), orig),
		Closer: orig,
	}
}

func (d *Dispatcher) handleReserve(w http.ResponseWriter, r *http.Request, cfg *serversconfig.ServersConfig) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badGateway(w, err.Error())
		return
	}

	resolve := func(key uint32) routespec.ServerURL { return cfg.Match(key) }
	res, err := reserve.Handle(r.Context(), d.client, d.mode, resolve, r.Header, body, d.log)
	if err != nil {
		internalServerError(w, err.Error())
		return
	}

	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func badGateway(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = io.WriteString(w, msg)
}

func internalServerError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, msg)
}
