// Package reserve implements the reserve-random handler: pick a
// random id in the mode's configured interval, forward a reservation
// request to whichever upstream owns it, and retry on 409 collisions.
package reserve

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/swaptacular/swpt-apiproxy/internal/mode"
	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
)

// MaxAttempts bounds how many consecutive 409 collisions this handler
// tolerates before giving up.
const MaxAttempts = 100

// ExhaustedError reports that no reservation attempt produced a
// response to relay: either every attempt collided, or a transport
// error ended the loop. The dispatcher turns it, like any other error
// from Handle, into a 500.
type ExhaustedError struct {
	ReservationType mode.ReservationType
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("All %s attempts have failed.\n", e.ReservationType)
}

// Resolver looks up the upstream responsible for a sharding key,
// mirroring the dispatcher's findServerUrl for a single-id path.
type Resolver func(key uint32) routespec.ServerURL

// Result is the outcome to relay to the client: either a verbatim
// upstream response, or an error meaning all attempts were exhausted.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Handle runs the §4.5 loop: draw a random id, resolve its upstream,
// POST the reservation body, forwarding the original client headers,
// and retry on 409 until MaxAttempts is exhausted or a non-409
// response (or transport error) ends the loop.
func Handle(ctx context.Context, client *http.Client, m mode.Mode, resolve Resolver, clientHeader http.Header, body []byte, log *logrus.Entry) (*Result, error) {
	span := new(big.Int).Sub(big.NewInt(m.MaxID), big.NewInt(m.MinID))
	span.Add(span, big.NewInt(1)) // span+1, per spec §4.5(a)

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		id, err := randomID(m.MinID, span)
		if err != nil {
			return nil, fmt.Errorf("reserve: drawing random id: %w", err)
		}

		key := numeric.ShardKey(id)
		upstream := resolve(key)
		path := m.ReserveBuilder(numeric.U2Dec(id))

		resp, err := post(ctx, client, string(upstream), path, clientHeader, body)
		if err != nil {
			// Spec §4.5 step 1.d: a transport error aborts the loop
			// immediately, but step 3's "Otherwise" response applies
			// to every path that didn't accept a response, transport
			// errors included — so this renders the same fixed
			// message as exhausting all attempts, not the raw error.
			log.WithError(err).WithField("upstream", upstream).Error("reserve: transport error, aborting")
			return nil, &ExhaustedError{ReservationType: m.ReservationType}
		}

		if resp.StatusCode == http.StatusConflict {
			log.WithField("attempt", attempt+1).Debug("reserve: id collision, retrying")
			continue
		}
		return resp, nil
	}

	return nil, &ExhaustedError{ReservationType: m.ReservationType}
}

// randomID draws a cryptographically random id uniformly from
// [min, min+span), i.e. [min, max].
func randomID(min int64, span *big.Int) (int64, error) {
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return min + n.Int64(), nil
}

// post issues the reservation POST with no redirect following and no
// status validation, returning the response as a fully buffered
// *Result.
func post(ctx context.Context, client *http.Client, upstream, path string, clientHeader http.Header, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reserve: building request: %w", err)
	}
	req.Header = clientHeader.Clone()
	req.Header.Set("Content-Type", "application/json")

	noRedirect := &http.Client{
		Transport:     client.Transport,
		Timeout:       client.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reserve: request to %s failed: %w", upstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reserve: reading response body: %w", err)
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
