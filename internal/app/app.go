// Package app wires the proxy's components together: config, mode
// selection, the config-file watcher, and the HTTP dispatcher, with
// the teacher's signal-driven graceful shutdown.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swaptacular/swpt-apiproxy/internal/config"
	"github.com/swaptacular/swpt-apiproxy/internal/dispatch"
	"github.com/swaptacular/swpt-apiproxy/internal/watcher"
)

// App represents the running apiproxy process.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	current    *watcher.Current
	watcher    *watcher.Watcher
	httpServer *http.Server
}

// New loads configuration and mode, builds the config watcher and the
// dispatcher, and wires them into an HTTP server. It performs one
// synchronous config load (via watcher.New) before returning. A
// missing or invalid config file does not make New fail: no config is
// published, and the dispatcher answers every request with a 502 until
// a valid file appears.
func New() (*App, error) {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	m, err := config.LoadMode()
	if err != nil {
		return nil, err
	}
	log.WithField("mode", m.Kind.String()).Info("apiproxy: mode selected")

	current := watcher.NewCurrent()
	w, err := watcher.New(cfg.ConfigFile, watcher.ParseLines(log), current, log)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(m, current, cfg.ProxyTimeout, cfg.Timeout, log)

	mux := http.NewServeMux()
	mux.Handle("/", d)
	mux.HandleFunc("/api/routes", dispatch.RoutesAPIHandler(current))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Timeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Timeout) * time.Millisecond,
	}

	return &App{
		cfg:        cfg,
		log:        log,
		current:    current,
		watcher:    w,
		httpServer: httpServer,
	}, nil
}

// Start runs the config watcher and the HTTP server until a shutdown
// signal arrives, then shuts both down gracefully.
func (a *App) Start() error {
	watchCtx, stopWatch := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		a.watcher.Run(watchCtx)
	}()

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		a.log.WithField("addr", a.httpServer.Addr).Info("apiproxy: HTTP listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Fatal("apiproxy: HTTP server error")
		}
	}()

	a.waitForShutdown(stopWatch, watchDone, httpDone)

	a.log.Info("apiproxy: shutdown complete")
	return nil
}

// waitForShutdown blocks for SIGINT/SIGTERM, then cancels the watcher
// and shuts the HTTP server down with a bounded grace period.
func (a *App) waitForShutdown(stopWatch context.CancelFunc, watchDone, httpDone chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.log.WithField("signal", sig.String()).Info("apiproxy: signal received, shutting down")

	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)

	<-watchDone
	<-httpDone
}
