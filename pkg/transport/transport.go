// Package transport implements the control plane's peer-to-peer RPC
// layer: error classification, bounded exponential backoff with
// jitter, and per-peer call statistics. Raft's own AppendEntries/
// RequestVote/InstallSnapshot traffic does not go through this
// package — it rides hashicorp/raft's own NetworkTransport. This one
// carries everything else: cross-region sync records, administrative
// join/add-voter calls, and any other request/response exchange
// between replicas.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// RpcTransport sends JSON request/response calls to peer endpoints,
// classifying failures and retrying retriable ones with backoff.
type RpcTransport interface {
	Call(ctx context.Context, peer, path string, req, resp interface{}) error
	Stats(peer string) PeerStats
}

// PeerStats tracks lightweight call accounting for one peer, returned
// by RpcTransport.Stats.
type PeerStats struct {
	Requests int64
	Failures int64
	LastErr  string
}

// HTTPTransport is the production RpcTransport: JSON bodies over
// plain net/http, per spec's "JSON-over-HTTP acceptable for a
// reference implementation" allowance.
type HTTPTransport struct {
	client      *http.Client
	maxRetries  int
	initialWait time.Duration
	maxWait     time.Duration

	mu    sync.Mutex
	stats map[string]*PeerStats
}

// NewHTTPTransport builds a transport with the given timeout and
// retry/backoff bounds.
func NewHTTPTransport(timeout time.Duration, maxRetries int, initialWait, maxWait time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		initialWait: initialWait,
		maxWait:     maxWait,
		stats:       make(map[string]*PeerStats),
	}
}

// Call sends req as a JSON POST to peer+path and decodes the response
// into resp, retrying retriable classified errors with exponential
// backoff and jitter.
func (t *HTTPTransport) Call(ctx context.Context, peer, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initialWait
	bo.MaxInterval = t.maxWait
	bounded := backoff.WithMaxRetries(bo, uint64(t.maxRetries))
	withCtx := backoff.WithContext(bounded, ctx)

	url := peer + path
	var lastErr error

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := t.client.Do(httpReq)
		if err != nil {
			classified := &ferrors.TransportError{Peer: peer, Kind: string(types.ErrNetwork), Err: err}
			lastErr = classified
			t.record(peer, classified)
			return classified
		}
		defer httpResp.Body.Close()

		kind := classifyStatus(httpResp.StatusCode)
		if kind != "" {
			data, _ := io.ReadAll(httpResp.Body)
			classified := &ferrors.TransportError{Peer: peer, Kind: string(kind), Err: fmt.Errorf("http %d: %s", httpResp.StatusCode, string(data))}
			lastErr = classified
			t.record(peer, classified)
			if !retriable(kind) {
				return backoff.Permanent(classified)
			}
			return classified
		}

		if resp != nil {
			if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
				lastErr = err
				return backoff.Permanent(err)
			}
		}

		t.recordSuccess(peer)
		return nil
	}

	if err := backoff.Retry(operation, withCtx); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func classifyStatus(code int) types.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return types.ErrRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.ErrAuth
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return types.ErrValidation
	case code >= 400 && code < 500:
		return types.ErrClient
	case code >= 500:
		return types.ErrServer
	default:
		return ""
	}
}

func retriable(kind types.ErrorKind) bool {
	switch kind {
	case types.ErrNetwork, types.ErrTimeout, types.ErrServer, types.ErrRateLimit, types.ErrUnknown:
		return true
	default:
		return false
	}
}

func (t *HTTPTransport) record(peer string, err *ferrors.TransportError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.peerStats(peer)
	s.Requests++
	s.Failures++
	s.LastErr = err.Error()
}

func (t *HTTPTransport) recordSuccess(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.peerStats(peer)
	s.Requests++
}

func (t *HTTPTransport) peerStats(peer string) *PeerStats {
	s, ok := t.stats[peer]
	if !ok {
		s = &PeerStats{}
		t.stats[peer] = s
	}
	return s
}

// Stats returns a copy of the accumulated call stats for peer.
func (t *HTTPTransport) Stats(peer string) PeerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stats[peer]; ok {
		return *s
	}
	return PeerStats{}
}
