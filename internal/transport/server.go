// Package transport is the wire realization of the peer RPC contract:
// gin-served JSON endpoints on the server side, a retrying net/http
// client on the caller side. Everything here is plumbing — placement
// and merge decisions live in router, storage, and controller.
package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crdtstore/internal/ring"
)

// Peer is the subset of router.Router this server exposes over the
// wire, so transport doesn't need to import router directly.
type Peer interface {
	Get(ctx context.Context, ttl int, scope, key string) ([]byte, bool, error)
	Put(ctx context.Context, ttl int, scope, key string, data []byte) ([]byte, error)
	GetHere(scope, key string) ([]byte, bool, error)
	PutHere(scope, key string, data []byte) ([]byte, error)
	Updating() bool
	GetRing() *ring.RingConfig
	SetRing(cfg *ring.RingConfig) error
}

// Server adapts a Peer to gin routes.
type Server struct {
	peer Peer
}

func NewServer(peer Peer) *Server {
	return &Server{peer: peer}
}

// Register mounts every endpoint on r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/kv/:scope/:key", s.handleGet)
	r.PUT("/kv/:scope/:key", s.handlePut)

	internal := r.Group("/internal")
	internal.GET("/kv/:scope/:key", s.handleGetHere)
	internal.PUT("/kv/:scope/:key", s.handlePutHere)
	internal.GET("/ring/updating", s.handleUpdating)
	internal.GET("/ring", s.handleGetRing)
	internal.PUT("/ring", s.handleSetRing)
}

type putBody struct {
	Data []byte `json:"data"`
}

func ttlFromQuery(c *gin.Context, fallback int) int {
	q := c.Query("ttl")
	if q == "" {
		return fallback
	}
	ttl, err := strconv.Atoi(q)
	if err != nil {
		return fallback
	}
	return ttl
}

func (s *Server) handleGet(c *gin.Context) {
	ttl := ttlFromQuery(c, 8)
	data, ok, err := s.peer.Get(c.Request.Context(), ttl, c.Param("scope"), c.Param("key"))
	writeGetResult(c, data, ok, err)
}

func (s *Server) handlePut(c *gin.Context) {
	var body putBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := ttlFromQuery(c, 8)
	merged, err := s.peer.Put(c.Request.Context(), ttl, c.Param("scope"), c.Param("key"), body.Data)
	writePutResult(c, merged, err)
}

func (s *Server) handleGetHere(c *gin.Context) {
	data, ok, err := s.peer.GetHere(c.Param("scope"), c.Param("key"))
	writeGetResult(c, data, ok, err)
}

func (s *Server) handlePutHere(c *gin.Context) {
	var body putBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merged, err := s.peer.PutHere(c.Param("scope"), c.Param("key"), body.Data)
	writePutResult(c, merged, err)
}

func (s *Server) handleUpdating(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"updating": s.peer.Updating()})
}

func (s *Server) handleGetRing(c *gin.Context) {
	cfg := s.peer.GetRing()
	if cfg == nil {
		c.JSON(http.StatusOK, gin.H{"configured": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "config": cfg})
}

func (s *Server) handleSetRing(c *gin.Context) {
	var cfg ring.RingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.peer.SetRing(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func writeGetResult(c *gin.Context, data []byte, ok bool, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func writePutResult(c *gin.Context, merged []byte, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": merged})
}
