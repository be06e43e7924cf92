// Package client provides a Go SDK for talking to the distributed CRDT
// store, scoped to one CRDT type per Client instance.
//
// Instead of writing raw HTTP requests everywhere, it wraps them inside
// a clean Go API: instead of
//
//	http.NewRequest(...)
//	json.Marshal(...)
//
// callers write
//
//	c := client.New[crdtypes.Max[int]](reg, "http://localhost:8080", "high-scores", 0)
//	c.Put(ctx, "alice", crdtypes.Max[int]{Value: 42})
//	v, ok, _ := c.Get(ctx, "alice")
//
// A Client talks to a single entry-point node over HTTP; that node's
// router decides whether to serve the request locally or forward it to
// the key's ring owner. The client does not implement any placement
// logic itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"crdtstore/internal/crdt"
)

// Client is bound to exactly one CRDT type T and one scope name. New
// panics if scope is bound to a type other than T in reg (and
// crdt.CheckScope exits the process if scope is not bound at all), so a
// misconfigured client fails at construction, not on its first request.
type Client[T crdt.CRDT[T]] struct {
	scope      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for scope, verifying scope is bound to T in reg.
func New[T crdt.CRDT[T]](reg *crdt.Registry, baseURL, scope string, timeout time.Duration) *Client[T] {
	if !crdt.CheckScope[T](reg, scope) {
		panic(fmt.Sprintf("client: scope %q is bound to a different type than %T", scope, *new(T)))
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client[T]{
		scope:      scope,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Get fetches key, decoding it as T. ok is false if the key has never
// been written (or was deleted and never re-merged).
func (c *Client[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(key), nil)
	if err != nil {
		return zero, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, false, fmt.Errorf("client: GET %s: %w", c.scope, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return zero, false, nil
	}
	if err := checkStatus(resp); err != nil {
		return zero, false, err
	}

	var body struct {
		Data []byte `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return zero, false, fmt.Errorf("client: decode envelope: %w", err)
	}
	var val T
	if err := json.Unmarshal(body.Data, &val); err != nil {
		return zero, false, fmt.Errorf("client: decode value: %w", err)
	}
	return val, true, nil
}

// GetOrDefault returns the zero value of T if key has never been
// written, swallowing the not-found case for callers that treat an
// absent key the same as its identity element.
func (c *Client[T]) GetOrDefault(ctx context.Context, key string) (T, error) {
	val, ok, err := c.Get(ctx, key)
	if err != nil {
		return val, err
	}
	if !ok {
		var zero T
		return zero, nil
	}
	return val, nil
}

// Put merges val into key and returns the resulting merged value.
func (c *Client[T]) Put(ctx context.Context, key string, val T) (T, error) {
	var zero T
	data, err := json.Marshal(val)
	if err != nil {
		return zero, fmt.Errorf("client: encode value: %w", err)
	}
	body, _ := json.Marshal(putBody{Data: data})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(key), bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("client: PUT %s: %w", c.scope, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return zero, err
	}

	var respBody struct {
		Data []byte `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return zero, fmt.Errorf("client: decode envelope: %w", err)
	}
	var merged T
	if err := json.Unmarshal(respBody.Data, &merged); err != nil {
		return zero, fmt.Errorf("client: decode merged value: %w", err)
	}
	return merged, nil
}

// putBody mirrors the wire envelope transport.Server expects: the
// marshaled CRDT value as a byte slice, which encoding/json represents
// as a base64 string, not inlined as raw JSON.
type putBody struct {
	Data []byte `json:"data"`
}

func (c *Client[T]) url(key string) string {
	return fmt.Sprintf("%s/kv/%s/%s", c.baseURL, url.PathEscape(c.scope), url.PathEscape(key))
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, string(body))
}
