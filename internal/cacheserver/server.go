package cacheserver

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polykit/polykit/internal/core/ports"
)

// keyPattern matches a valid cache key: 64 lowercase hex characters.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

const contentTypeZstd = "application/zstd"

// hashHeader carries the stored payload digest on GET/HEAD responses.
const hashHeader = "X-Artifact-Hash"

// Server is the remote cache HTTP service.
type Server struct {
	storage *Storage
	metrics *Metrics
	log     ports.Logger
	engine  *gin.Engine
}

// New creates a Server over the given storage.
func New(storage *Storage, metrics *Metrics, log ports.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{storage: storage, metrics: metrics, log: log, engine: engine}

	engine.PUT("/v1/artifacts/:key", s.instrument(s.putArtifact))
	engine.GET("/v1/artifacts/:key", s.instrument(s.getArtifact))
	engine.HEAD("/v1/artifacts/:key", s.instrument(s.headArtifact))
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	return s
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) instrument(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		h(c)
		s.metrics.Requests.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// validKey extracts and validates the key parameter, replying 400 on
// malformed keys.
func (s *Server) validKey(c *gin.Context) (string, bool) {
	key := c.Param("key")
	if !keyPattern.MatchString(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cache key format: " + key})
		return "", false
	}
	return key, true
}

// putArtifact streams the request body into storage. The server accepts any
// content for a well-formed key; clients verify the digest on download.
func (s *Server) putArtifact(c *gin.Context) {
	key, ok := s.validKey(c)
	if !ok {
		return
	}

	meta, err := s.storage.Store(key, c.Request.Body)
	switch {
	case errors.Is(err, ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": "artifact " + key + " already exists"})
	case errors.Is(err, ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "artifact size exceeds maximum " + strconv.FormatInt(s.storage.MaxSize(), 10),
		})
	case err != nil:
		s.log.Error("failed to store artifact", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store artifact"})
	default:
		s.metrics.StoredBytes.Add(float64(meta.Size))
		c.Status(http.StatusCreated)
	}
}

func (s *Server) getArtifact(c *gin.Context) {
	key, ok := s.validKey(c)
	if !ok {
		return
	}

	f, meta, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		s.log.Error("failed to read artifact", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read artifact"})
		return
	}
	defer f.Close()

	c.Header(hashHeader, meta.Hash)
	s.metrics.ServedBytes.Add(float64(meta.Size))
	c.DataFromReader(http.StatusOK, meta.Size, contentTypeZstd, f, nil)
}

func (s *Server) headArtifact(c *gin.Context) {
	key, ok := s.validKey(c)
	if !ok {
		return
	}

	meta, err := s.storage.Meta(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		s.log.Error("failed to read artifact metadata", "key", key, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", contentTypeZstd)
	c.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
	c.Header(hashHeader, meta.Hash)
	c.Status(http.StatusOK)
}

// Serve runs the server until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
