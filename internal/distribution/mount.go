package distribution

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/rs/zerolog/log"
)

// tryMount attempts to satisfy a push by reusing an already-stored blob
// instead of transferring fresh bytes. Attempts, in order: the digest is
// already present in the destination; a remote origin serves it; the
// source repository in this store has it. Returning false means the
// caller must fall back to the ordinary upload path.
func (r *Registry) tryMount(c *gin.Context, name, mount, from, origin string) bool {
	dgst, err := parseDigest(mount)
	if err != nil {
		return false
	}

	ctx := c.Request.Context()
	destKey := blobKey(name, dgst.String())

	if _, err := r.store.Head(ctx, destKey); err == nil {
		log.Debug().Str("repository", name).Str("digest", dgst.String()).Msg("mount satisfied by existing blob")
		r.mountCreated(c, name, dgst.String())
		return true
	} else if !errors.Is(err, storage.ErrNotExist) {
		log.Error().Err(err).Str("key", destKey).Msg("failed to probe mount destination")
		return false
	}

	opts := storage.PutOptions{ContentType: "application/octet-stream", SHA256: dgst.Encoded()}

	if origin != "" {
		resp, err := r.origin.Get("https://" + origin + "/v2/" + from + "/blobs/" + dgst.String())
		if err != nil {
			log.Warn().Err(err).Str("origin", origin).Str("digest", dgst.String()).Msg("cross-origin mount fetch failed")
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if _, err := r.store.Put(ctx, destKey, resp.Body, opts); err != nil {
			log.Warn().Err(err).Str("key", destKey).Msg("failed to store cross-origin mounted blob")
			return false
		}
		log.Info().
			Str("repository", name).
			Str("from", from).
			Str("origin", origin).
			Str("digest", dgst.String()).
			Msg("blob mounted from remote origin")
		r.mountCreated(c, name, dgst.String())
		return true
	}

	src, err := r.store.Get(ctx, blobKey(from, dgst.String()))
	if err != nil {
		if !errors.Is(err, storage.ErrNotExist) {
			log.Warn().Err(err).Str("from", from).Str("digest", dgst.String()).Msg("failed to read mount source")
		}
		return false
	}
	defer src.Body.Close()

	if _, err := r.store.Put(ctx, destKey, src.Body, opts); err != nil {
		log.Warn().Err(err).Str("key", destKey).Msg("failed to copy mounted blob")
		return false
	}

	log.Info().
		Str("repository", name).
		Str("from", from).
		Str("digest", dgst.String()).
		Msg("blob mounted from local repository")
	r.mountCreated(c, name, dgst.String())
	return true
}

func (r *Registry) mountCreated(c *gin.Context, name, dgst string) {
	c.Header("location", "/v2/"+name+"/blobs/"+dgst)
	c.Header("docker-content-digest", dgst)
	c.Status(http.StatusCreated)
}
