package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/swaptacular/swpt-apiproxy/internal/watcher"
)

// routesAPIEntry describes one upstream in the debug routes listing.
type routesAPIEntry struct {
	Server string `json:"server"`
	MinID  int64  `json:"min_id"`
}

// RoutesAPIHandler exposes the currently published routing plane as
// JSON: the config version and, per server, the smallest id currently
// sharding to it. Not part of the forwarding path; useful for
// debugging a running deployment the way the teacher's routes API is.
func RoutesAPIHandler(current *watcher.Current) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := current.Load()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = enc.Encode(map[string]string{"status": "no config loaded"})
			return
		}

		servers := cfg.Servers()
		entries := make([]routesAPIEntry, 0, len(servers))
		for u, minID := range servers {
			entries = append(entries, routesAPIEntry{Server: string(u), MinID: minID})
		}

		_ = enc.Encode(map[string]any{
			"version": cfg.Version(),
			"servers": entries,
		})
	}
}
