package distribution

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/rs/zerolog/log"
)

// maxCacheableBody bounds the response size the edge cache will hold.
// Larger blobs are streamed straight from the object store.
const maxCacheableBody = 8 << 20

func (r *Registry) handleBlobGet(c *gin.Context, p routeParams) {
	key := blobKey(p.Name, p.Digest)

	if r.serveCached(c, key) {
		return
	}

	obj, err := r.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrBlobUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to read blob")
		c.Status(http.StatusInternalServerError)
		return
	}
	defer obj.Body.Close()

	dgst := "sha256:" + obj.SHA256
	c.Header("docker-content-digest", dgst)
	c.Header("cache-control", blobCacheControl)

	if r.cache != nil && obj.Size <= maxCacheableBody {
		body, err := io.ReadAll(obj.Body)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to read blob content")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", body)
		r.cache.Store(cacheKey(c.Request), &CachedResponse{
			Digest:       dgst,
			CacheControl: blobCacheControl,
			Body:         body,
		}, blobCacheTTL)
		return
	}

	c.DataFromReader(http.StatusOK, obj.Size, "application/octet-stream", obj.Body, nil)
}

func (r *Registry) handleBlobHead(c *gin.Context, p routeParams) {
	key := blobKey(p.Name, p.Digest)

	info, err := r.store.Head(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrBlobUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to probe blob")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("docker-content-digest", "sha256:"+info.SHA256)
	c.Header("content-length", strconv.FormatInt(info.Size, 10))
	c.Status(http.StatusOK)
}

func (r *Registry) handleBlobDelete(c *gin.Context, p routeParams) {
	key := blobKey(p.Name, p.Digest)

	if _, err := r.store.Head(c.Request.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrBlobUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to probe blob")
		c.Status(http.StatusInternalServerError)
		return
	}

	if err := r.store.Delete(c.Request.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to delete blob")
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Info().Str("repository", p.Name).Str("digest", p.Digest).Msg("blob deleted")
	c.Status(http.StatusAccepted)
}

// cacheKey identifies a GET response by the exact inbound request.
func cacheKey(req *http.Request) string {
	return req.URL.RequestURI()
}

// serveCached answers the request from the edge cache when possible.
func (r *Registry) serveCached(c *gin.Context, key string) bool {
	if r.cache == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
	defer cancel()

	cached, err := r.cache.Lookup(ctx, cacheKey(c.Request))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("edge cache lookup failed")
		return false
	}
	if cached == nil {
		return false
	}

	c.Header("docker-content-digest", cached.Digest)
	c.Header("cache-control", cached.CacheControl)
	contentType := cached.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, cached.Body)
	return true
}
