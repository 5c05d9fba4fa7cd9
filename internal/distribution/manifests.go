package distribution

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
)

func (r *Registry) handleManifestGet(c *gin.Context, p routeParams) {
	key := manifestKey(p.Name, p.Reference)

	if r.serveCached(c, key) {
		return
	}

	obj, err := r.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrManifestUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to read manifest")
		c.Status(http.StatusInternalServerError)
		return
	}
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to read manifest content")
		c.Status(http.StatusInternalServerError)
		return
	}

	dgst := "sha256:" + obj.SHA256
	cacheControl := manifestCacheControl(p.Reference)
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("docker-content-digest", dgst)
	c.Header("cache-control", cacheControl)
	c.Data(http.StatusOK, contentType, body)

	if r.cache != nil {
		r.cache.Store(cacheKey(c.Request), &CachedResponse{
			Digest:       dgst,
			ContentType:  contentType,
			CacheControl: cacheControl,
			Body:         body,
		}, manifestCacheTTL(p.Reference))
	}
}

func (r *Registry) handleManifestHead(c *gin.Context, p routeParams) {
	key := manifestKey(p.Name, p.Reference)

	info, err := r.store.Head(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrManifestUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to probe manifest")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("docker-content-digest", "sha256:"+info.SHA256)
	c.Header("content-length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		c.Header("content-type", info.ContentType)
	}
	c.Status(http.StatusOK)
}

// handleManifestPut stores the manifest under its computed digest and,
// when the requested reference differs, a second identical copy under the
// reference. The digest-keyed write happens first; the response always
// reports the computed digest, never a client-supplied one.
func (r *Registry) handleManifestPut(c *gin.Context, p routeParams) {
	contentType := c.GetHeader("content-type")
	if contentType == "" {
		writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("content-type header required"))
		return
	}

	digester := digest.SHA256.Digester()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.TeeReader(c.Request.Body, digester.Hash())); err != nil {
		log.Error().Err(err).Str("repository", p.Name).Msg("failed to read manifest body")
		c.Status(http.StatusInternalServerError)
		return
	}
	body := buf.Bytes()
	dgst := digester.Digest()

	ctx := c.Request.Context()
	opts := storage.PutOptions{ContentType: contentType, SHA256: dgst.Encoded()}

	if _, err := r.store.Put(ctx, manifestKey(p.Name, dgst.String()), bytes.NewReader(body), opts); err != nil {
		log.Error().Err(err).Str("repository", p.Name).Str("digest", dgst.String()).Msg("failed to store manifest")
		c.Status(http.StatusInternalServerError)
		return
	}

	if p.Reference != dgst.String() {
		if _, err := r.store.Put(ctx, manifestKey(p.Name, p.Reference), bytes.NewReader(body), opts); err != nil {
			log.Error().Err(err).
				Str("repository", p.Name).
				Str("tag", p.Reference).
				Str("digest", dgst.String()).
				Msg("manifest stored but tag alias write failed")
			writeError(c, http.StatusInternalServerError,
				ErrUnsupported.WithDetail("manifest stored at digest but tag alias write failed; retry the tag push"))
			return
		}
	}

	r.recordManifest(p.Name, p.Reference, dgst.String())

	log.Info().
		Str("repository", p.Name).
		Str("reference", p.Reference).
		Str("digest", dgst.String()).
		Int("size", len(body)).
		Msg("manifest stored")

	c.Header("location", "/v2/"+p.Name+"/manifests/"+p.Reference)
	c.Header("docker-content-digest", dgst.String())
	c.Status(http.StatusCreated)
}

func (r *Registry) handleManifestDelete(c *gin.Context, p routeParams) {
	key := manifestKey(p.Name, p.Reference)

	if _, err := r.store.Head(c.Request.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrManifestUnknown)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to probe manifest")
		c.Status(http.StatusInternalServerError)
		return
	}

	// Only the object at the given reference is removed. Deleting a tag
	// leaves the digest-keyed copy; deleting by digest leaves any tags
	// still pointing at it.
	if err := r.store.Delete(c.Request.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to delete manifest")
		c.Status(http.StatusInternalServerError)
		return
	}

	if r.catalog != nil && !isDigest(p.Reference) {
		go func(repository, tag string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.catalog.DeleteTag(ctx, repository, tag); err != nil {
				log.Warn().Err(err).Str("repository", repository).Str("tag", tag).Msg("failed to remove catalog tag")
			}
		}(p.Name, p.Reference)
	}

	log.Info().Str("repository", p.Name).Str("reference", p.Reference).Msg("manifest deleted")
	c.Status(http.StatusAccepted)
}

// recordManifest feeds the browse catalog off the response path.
func (r *Registry) recordManifest(repository, reference, dgst string) {
	if r.catalog == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.catalog.RecordManifest(ctx, repository, dgst); err != nil {
			log.Warn().Err(err).Str("repository", repository).Str("digest", dgst).Msg("failed to record catalog manifest")
			return
		}
		if reference != dgst && !isDigest(reference) {
			if err := r.catalog.RecordTag(ctx, repository, reference, dgst); err != nil {
				log.Warn().Err(err).Str("repository", repository).Str("tag", reference).Msg("failed to record catalog tag")
			}
		}
	}()
}
