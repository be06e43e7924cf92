package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"crdtstore/internal/ring"
)

// Client is a net/http-based RPC caller to one or more peers, addressed
// by ring.NetworkId. It implements router.Peer, storage.PeerPutter, and
// controller.PeerClient structurally, so one transport client can serve
// all three callers.
type Client struct {
	addrs      map[ring.NetworkId]string // NetworkId -> "host:port"
	httpClient *http.Client
	maxRetries int
}

func NewClient(addrs map[ring.NetworkId]string) *Client {
	return &Client{
		addrs:      addrs,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 3,
	}
}

type getResponse struct {
	Data []byte `json:"data"`
}

type putResponse struct {
	Data []byte `json:"data"`
}

type ringResponse struct {
	Configured bool             `json:"configured"`
	Config     *ring.RingConfig `json:"config"`
}

type updatingResponse struct {
	Updating bool `json:"updating"`
}

// Get implements router.Peer.
func (c *Client) Get(ctx context.Context, to ring.NetworkId, ttl int, scope, key string) ([]byte, bool, error) {
	path := fmt.Sprintf("/kv/%s/%s?ttl=%d", url.PathEscape(scope), url.PathEscape(key), ttl)
	var resp getResponse
	found, err := c.doWithRetry(ctx, to, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, false, err
	}
	return resp.Data, found, nil
}

// Put implements router.Peer.
func (c *Client) Put(ctx context.Context, to ring.NetworkId, ttl int, scope, key string, data []byte) ([]byte, error) {
	path := fmt.Sprintf("/kv/%s/%s?ttl=%d", url.PathEscape(scope), url.PathEscape(key), ttl)
	body, _ := json.Marshal(putBody{Data: data})
	var resp putResponse
	if _, err := c.doWithRetry(ctx, to, http.MethodPut, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// PutHere implements storage.PeerPutter and router.Peer — used by the
// migration worker, which already holds the per-key lock, and by a
// StoreAdding write. It makes a single attempt (no retry), which keeps
// the migration worker's lock held for a bounded time.
func (c *Client) PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error) {
	path := fmt.Sprintf("/internal/kv/%s/%s", url.PathEscape(scope), url.PathEscape(key))
	body, _ := json.Marshal(putBody{Data: data})
	var resp putResponse
	if err := c.doOnce(ctx, to, http.MethodPut, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetHere implements router.Peer — used during a StoreAdding read to
// reach the new owner's storage directly, bypassing its own
// placement decision (whose ring doesn't carry the in-flight Update
// yet and would otherwise resolve straight back to the caller).
func (c *Client) GetHere(ctx context.Context, to ring.NetworkId, scope, key string) ([]byte, bool, error) {
	path := fmt.Sprintf("/internal/kv/%s/%s", url.PathEscape(scope), url.PathEscape(key))
	var resp getResponse
	found, err := c.doWithRetry(ctx, to, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, false, err
	}
	return resp.Data, found, nil
}

// GetRing implements controller.PeerClient.
func (c *Client) GetRing(ctx context.Context, to ring.NetworkId) (*ring.RingConfig, bool, error) {
	var resp ringResponse
	if _, err := c.doWithRetry(ctx, to, http.MethodGet, "/internal/ring", nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Config, resp.Configured, nil
}

// SetRing implements controller.PeerClient.
func (c *Client) SetRing(ctx context.Context, to ring.NetworkId, cfg *ring.RingConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("transport: marshal ring config: %w", err)
	}
	_, err = c.doWithRetry(ctx, to, http.MethodPut, "/internal/ring", body, nil)
	return err
}

// Updating implements controller.PeerClient.
func (c *Client) Updating(ctx context.Context, to ring.NetworkId) (bool, error) {
	var resp updatingResponse
	if _, err := c.doWithRetry(ctx, to, http.MethodGet, "/internal/ring/updating", nil, &resp); err != nil {
		return false, err
	}
	return resp.Updating, nil
}

// doWithRetry makes up to maxRetries attempts at a request, waiting
// 100ms before the second attempt and doubling the wait before each
// later one.
func (c *Client) doWithRetry(ctx context.Context, to ring.NetworkId, method, path string, body []byte, out any) (bool, error) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false, ctx.Err()
			}
			backoff *= 2
		}
		found, err := c.doOnceFound(ctx, to, method, path, body, out)
		if err == nil {
			return found, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("transport: %s %s to %s failed after %d attempts: %w", method, path, to, c.maxRetries, lastErr)
}

// doOnce performs a single attempt, no retry — for the migration
// worker's bounded, lock-holding PutHere call.
func (c *Client) doOnce(ctx context.Context, to ring.NetworkId, method, path string, body []byte, out any) error {
	_, err := c.doOnceFound(ctx, to, method, path, body, out)
	return err
}

// doOnceFound performs one HTTP round trip. found distinguishes a 404
// (key not present, not an error) from a successful response.
func (c *Client) doOnceFound(ctx context.Context, to ring.NetworkId, method, path string, body []byte, out any) (bool, error) {
	addr, ok := c.addrs[to]
	if !ok {
		return false, fmt.Errorf("transport: unknown peer %s", to)
	}
	url := fmt.Sprintf("http://%s%s", addr, path)

	var reqBody *bytes.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("transport: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("transport: decode response: %w", err)
	}
	return true, nil
}
