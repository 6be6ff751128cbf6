// Package enumerate implements the fleet-wide pagination stitcher:
// given a self-handled /{scope}/{id}/enumerate response, it rewrites
// the page's uri/next links to chain across servers and invalidates
// the chain on reconfiguration. It peeks and rewrites JSON fields with
// gjson/sjson rather than a full struct round-trip, the same approach
// the field-level request/response mutators in the retrieved corpus
// use for targeted JSON edits.
package enumerate

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/swaptacular/swpt-apiproxy/internal/mode"
	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
	"github.com/swaptacular/swpt-apiproxy/internal/serversconfig"
)

// MaxBufferedBody caps how much of an enumerate response body this
// package will buffer for rewriting. Larger bodies are relayed
// unrewritten rather than read fully into memory.
const MaxBufferedBody = 4 << 20 // 4 MiB

// pageType is the JSON "type" discriminator a rewritable page must
// carry; anything else is passed through unchanged.
const pageType = "ObjectReferencesPage"

// Snapshot is what the dispatcher captures at request time and hands
// back to Rewrite once the upstream response is in hand: the config
// version live when the request was classified, and the upstream
// server it was sent to.
type Snapshot struct {
	ConfigVersion string
	ForwardURL    routespec.ServerURL
}

// Rewrite applies the §4.4 procedure to an upstream JSON body. contentType
// must be exactly "application/json" and status exactly 200 for the body
// to be considered; any other input, or a body too large or not shaped
// like an ObjectReferencesPage, is returned byte-for-byte unchanged.
func Rewrite(m mode.Mode, status int, contentType string, path string, snap Snapshot, cfg *serversconfig.ServersConfig, body []byte) ([]byte, error) {
	if status != 200 || contentType != "application/json" || len(body) > MaxBufferedBody {
		return body, nil
	}
	if !looksLikePage(body) {
		return body, nil
	}

	uri := gjson.GetBytes(body, "uri")
	if uri.Type != gjson.String {
		return body, nil
	}
	next := gjson.GetBytes(body, "next")
	if next.Exists() && next.Type != gjson.String {
		return body, nil
	}

	v := queryVersion(path)
	if v == "" {
		v = snap.ConfigVersion
	}

	out, err := sjson.SetBytes(body, "uri", uri.String()+"?v="+v)
	if err != nil {
		return nil, fmt.Errorf("enumerate: setting uri: %w", err)
	}

	if v == snap.ConfigVersion && snap.ConfigVersion == cfg.Version() {
		out, err = rewriteConsistent(m, cfg, snap.ForwardURL, next, v, out)
	} else {
		out, err = rewriteInconsistent(m, out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// looksLikePage cheaply checks the JSON "type" discriminator before
// doing any further inspection.
func looksLikePage(body []byte) bool {
	return gjson.GetBytes(body, "type").String() == pageType
}

// queryVersion extracts the single "v" query parameter from path, if
// any.
func queryVersion(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// rewriteConsistent handles the case where the traversal hasn't
// crossed a reconfiguration: propagate ?v= on an in-shard next link,
// or stitch in the successor server's minimum id at the end of a
// shard.
func rewriteConsistent(m mode.Mode, cfg *serversconfig.ServersConfig, forwardURL routespec.ServerURL, next gjson.Result, v string, body []byte) ([]byte, error) {
	if next.Exists() && next.String() != "" {
		out, err := sjson.SetBytes(body, "next", next.String()+"?v="+v)
		if err != nil {
			return nil, fmt.Errorf("enumerate: setting next: %w", err)
		}
		return out, nil
	}

	successor, ok := cfg.Successor(forwardURL)
	if !ok {
		// Last server in the chain: leave next absent.
		return sjson.DeleteBytes(body, "next")
	}

	minID, ok := cfg.MinID(successor)
	if !ok {
		return nil, fmt.Errorf("enumerate: successor %s has no recorded minimum id", successor)
	}

	nextPath := m.EnumeratePathBuilder(numeric.U2Dec(minID), v)
	out, err := sjson.SetBytes(body, "next", nextPath)
	if err != nil {
		return nil, fmt.Errorf("enumerate: setting next: %w", err)
	}
	return out, nil
}

// rewriteInconsistent handles a traversal that straddled a config
// change: the client must restart, so items are emptied and next is
// pointed at a path guaranteed not to resolve.
func rewriteInconsistent(m mode.Mode, body []byte) ([]byte, error) {
	out, err := sjson.SetBytes(body, "items", []any{})
	if err != nil {
		return nil, fmt.Errorf("enumerate: clearing items: %w", err)
	}
	out, err = sjson.SetBytes(out, "next", m.InvalidPath)
	if err != nil {
		return nil, fmt.Errorf("enumerate: setting invalid next: %w", err)
	}
	return out, nil
}
