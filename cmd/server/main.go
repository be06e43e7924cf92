// cmd/server is the main entrypoint for a CRDT store node.
//
// Configuration is entirely via flags so a single binary can serve any
// role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/crdtstore/node1
//
// Example — 3-node cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 \
//	         --peers node2=localhost:8081,node3=localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 \
//	         --peers node1=localhost:8080,node3=localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 \
//	         --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"crdtstore/internal/api"
	"crdtstore/internal/controller"
	"crdtstore/internal/crdt"
	"crdtstore/internal/crdt/crdtypes"
	"crdtstore/internal/discovery"
	"crdtstore/internal/ring"
	"crdtstore/internal/router"
	"crdtstore/internal/storage"
	"crdtstore/internal/transport"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/crdtstore", "Directory for ring state and stored keys")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes: id=host:port")
	reconcileInterval := flag.Duration("reconcile-interval", 0, "Override between reconciliation passes (0 = use the controller's own Fast/Wait schedule)")
	flag.Parse()

	// ── CRDT scope registry ─────────────────────────────────────────────────
	// Every scope this binary will ever serve must be bound before the
	// server starts accepting requests; an unbound scope is a deploy-time
	// config error, not something to discover per-request.
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int64]](reg, "counters")
	crdt.Bind[crdtypes.Set[string]](reg, "tags")
	crdt.Bind[crdtypes.Map[string, crdtypes.Max[int64]]](reg, "counter-maps")

	self := ring.NetworkId(*nodeID)
	addrs := map[ring.NetworkId]string{self: *addr}
	var peerIDs []ring.NetworkId
	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				log.Fatalf("invalid peer format %q: expected id=host:port", entry)
			}
			ni := ring.NetworkId(parts[0])
			addrs[ni] = parts[1]
			peerIDs = append(peerIDs, ni)
		}
	}
	disc := discovery.NewStatic(self, peerIDs)
	client := transport.NewClient(addrs)

	// ── Storage ────────────────────────────────────────────────────────────
	engine, err := storage.New(*dataDir, reg, self, client)
	if err != nil {
		log.Fatalf("open storage engine: %v", err)
	}

	// ── Router + controller ─────────────────────────────────────────────────
	r := router.New(self, engine, client, disc, reg)
	ctrl := controller.New(client, disc)

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(api.Logger(), api.Recovery())
	transport.NewServer(r).Register(ginEngine)

	ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":   *nodeID,
			"status": "ok",
			"peers":  len(disc.Peers()),
		})
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      ginEngine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Background reconciliation loop ──────────────────────────────────────
	// Drives the two-phase add/remove protocol: the controller decides its
	// own Fast/Wait pace each pass unless an operator override is set.
	reconcileCtx, cancelReconcile := context.WithCancel(context.Background())
	go func() {
		for {
			sched := ctrl.RunOnce(reconcileCtx)
			delay := sched.Delay()
			if *reconcileInterval > 0 {
				delay = *reconcileInterval
			}
			select {
			case <-time.After(delay):
			case <-reconcileCtx.Done():
				return
			}
		}
	}()

	go func() {
		log.Printf("node %s listening on %s", *nodeID, *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", *nodeID)
	cancelReconcile()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
