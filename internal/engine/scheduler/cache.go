package scheduler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/polykit/polykit/internal/adapters/cas"
	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

type unpackedArtifact = cas.Unpacked

// artifactCache implements the lookup and store-on-success protocol over the
// local store and the optional remote cache. Remote failures are logged and
// never fail a task.
type artifactCache struct {
	store   ports.ArtifactStore
	remote  ports.RemoteCache
	log     ports.Logger
	metrics *domain.ExecutionMetrics
	maxSize int64
}

func (c *artifactCache) enabled() bool {
	return c.store != nil || c.remote != nil
}

// restore tries the local store, then the remote cache. A remote hit is
// verified against the server-reported digest and backfilled into the local
// store.
func (c *artifactCache) restore(ctx context.Context, key, dir string) (*unpackedArtifact, bool) {
	if !c.enabled() {
		return nil, false
	}

	if c.store != nil && c.store.Has(key) {
		rc, meta, err := c.store.Open(key)
		if err == nil {
			defer rc.Close()
			unpacked, err := c.verifyAndUnpack(rc, meta.SHA256, dir)
			if err == nil {
				c.recordProbe(true)
				return unpacked, true
			}
			c.log.Warn("local cache entry corrupt, ignoring", "key", key, "error", err)
		}
	}

	if c.remote != nil {
		found, err := c.remote.Probe(ctx, key)
		if err != nil {
			c.remoteError("remote cache probe failed", key, err)
			c.recordProbe(false)
			return nil, false
		}
		if found {
			body, expected, err := c.remote.Fetch(ctx, key)
			if err != nil {
				c.remoteError("remote cache fetch failed", key, err)
				c.recordProbe(false)
				return nil, false
			}
			defer body.Close()

			payload, err := io.ReadAll(io.LimitReader(body, c.maxSize+1))
			if err != nil || int64(len(payload)) > c.maxSize {
				c.remoteError("remote artifact unreadable or oversized", key, err)
				c.recordProbe(false)
				return nil, false
			}

			unpacked, err := c.verifyAndUnpack(bytes.NewReader(payload), expected, dir)
			if err != nil {
				// Integrity mismatch: discard and treat as a miss.
				c.remoteError("remote artifact failed verification", key, err)
				c.recordProbe(false)
				return nil, false
			}

			if c.store != nil {
				if _, err := c.store.Put(key, bytes.NewReader(payload)); err != nil {
					c.log.Warn("failed to backfill local cache", "key", key, "error", err)
				}
			}
			c.recordProbe(true)
			return unpacked, true
		}
	}

	c.recordProbe(false)
	return nil, false
}

// verifyAndUnpack checks the payload digest when one is expected, then
// unpacks into dir.
func (c *artifactCache) verifyAndUnpack(r io.Reader, expected string, dir string) (*unpackedArtifact, error) {
	if expected == "" {
		return cas.Unpack(r, dir)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != expected {
		return nil, domain.ErrCacheCorrupt
	}
	return cas.Unpack(bytes.NewReader(payload), dir)
}

// save packs the vertex outputs and stores the artifact locally and, when
// permitted, remotely. Failures here never fail the task.
func (c *artifactCache) save(ctx context.Context, key string, v *vertex, outputs []string, stdout, stderr []byte) {
	if !c.enabled() {
		return
	}

	var buf bytes.Buffer
	info := cas.ArtifactInfo{
		Package:   v.pkg.Name,
		Task:      v.task.Name,
		Command:   v.task.Command,
		CacheKey:  key,
		CreatedAt: time.Now().Unix(),
	}
	if _, err := cas.Pack(&buf, v.pkg.Dir, outputs, info, stdout, stderr); err != nil {
		c.log.Warn("failed to pack artifact", "key", key, "error", err)
		return
	}
	if int64(buf.Len()) > c.maxSize {
		// Non-fatal: the task result stands, the artifact is not stored.
		c.log.Warn("artifact exceeds maximum size, not stored",
			"key", key, "size", buf.Len(), "max", c.maxSize)
		return
	}

	payload := buf.Bytes()
	if c.store != nil {
		if _, err := c.store.Put(key, bytes.NewReader(payload)); err != nil {
			c.log.Warn("failed to store artifact locally", "key", key, "error", err)
		}
	}

	if c.remote != nil && !c.remote.ReadOnly() {
		present, err := c.remote.Probe(ctx, key)
		if err != nil {
			c.remoteError("remote cache probe failed", key, err)
			return
		}
		if present {
			return
		}
		if err := c.remote.Store(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
			c.remoteError("remote cache upload failed", key, err)
		}
	}
}

func (c *artifactCache) recordProbe(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheProbe(hit)
	}
}

func (c *artifactCache) remoteError(msg, key string, err error) {
	c.log.Warn(msg, "key", key, "error", err)
	if c.metrics != nil {
		c.metrics.RecordRemoteError()
	}
}
