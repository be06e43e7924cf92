package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crdtstore/internal/client"
	"crdtstore/internal/crdt"
	"crdtstore/internal/crdt/crdtypes"
)

func TestGetMissingKeyIsNotFoundNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	c := client.New[crdtypes.Max[int]](reg, srv.URL, "counters", 0)

	_, ok, err := c.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing key")
	}
}

func TestPutEncodesAndDecodesEnvelope(t *testing.T) {
	var sawPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPath = r.URL.Path
		var body struct {
			Data []byte `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Data []byte `json:"data"`
		}{Data: body.Data})
	}))
	defer srv.Close()

	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	c := client.New[crdtypes.Max[int]](reg, srv.URL, "counters", 0)

	got, err := c.Put(context.Background(), "k", crdtypes.Max[int]{Value: 9})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got.Value != 9 {
		t.Fatalf("expected round-tripped value 9, got %d", got.Value)
	}
	if sawPath != "/kv/counters/k" {
		t.Fatalf("expected path /kv/counters/k, got %s", sawPath)
	}
}

func TestGetOrDefaultReturnsZeroValueWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	c := client.New[crdtypes.Max[int]](reg, srv.URL, "counters", 0)

	got, err := c.GetOrDefault(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	if got.Value != 0 {
		t.Fatalf("expected zero value, got %d", got.Value)
	}
}

func TestNewPanicsOnScopeTypeMismatch(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")

	defer func() {
		if recover() == nil {
			t.Fatalf("expected New to panic on scope/type mismatch")
		}
	}()
	client.New[crdtypes.Min[int]](reg, "http://unused", "counters", time.Second)
}
