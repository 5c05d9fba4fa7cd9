package distribution

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/rs/zerolog/log"
)

// uploadState is the client-held progress of a chunked upload. The server
// keeps no memory of it between requests: the state is serialized into the
// continuation location and echoed back verbatim on the next call.
type uploadState struct {
	Size  int64          `json:"size"`
	Parts []storage.Part `json:"parts"`
}

// signState computes the integrity signature over a continuation token.
// Binding session and upload id into the MAC keeps a state blob from
// being replayed against a different session.
func (r *Registry) signState(session, uploadID, stateJSON string) string {
	mac := hmac.New(sha256.New, r.stateSecret)
	mac.Write([]byte(session))
	mac.Write([]byte{0})
	mac.Write([]byte(uploadID))
	mac.Write([]byte{0})
	mac.Write([]byte(stateJSON))
	return hex.EncodeToString(mac.Sum(nil))
}

// uploadLocation builds the continuation location the client must call
// next, carrying the serialized state and its signature.
func (r *Registry) uploadLocation(name, session, uploadID string, state *uploadState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload state: %w", err)
	}
	stateJSON := string(raw)

	q := url.Values{}
	q.Set("upload", uploadID)
	q.Set("state", stateJSON)
	q.Set("sig", r.signState(session, uploadID, stateJSON))
	return "/v2/" + name + "/blobs/uploads/" + session + "?" + q.Encode(), nil
}

var (
	errStateMissing = errors.New("upload state missing or malformed")
	errStateForged  = errors.New("upload state signature mismatch")
)

// decodeState reconstructs the session from the request's query
// parameters. A missing or garbled token is a client error; a token whose
// signature does not verify names a session this server never issued.
func (r *Registry) decodeState(c *gin.Context, session string) (*uploadState, string, error) {
	uploadID := c.Query("upload")
	stateJSON := c.Query("state")
	if uploadID == "" || stateJSON == "" {
		return nil, "", errStateMissing
	}

	sig := c.Query("sig")
	want := r.signState(session, uploadID, stateJSON)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return nil, "", errStateForged
	}

	var state uploadState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, "", errStateMissing
	}
	return &state, uploadID, nil
}

// declaredLength returns the length the client declared for this
// request's body. A garbled header is an error; an absent header falls
// back to the transport's length.
func declaredLength(c *gin.Context) (int64, error) {
	header := c.GetHeader("content-length")
	if header == "" {
		return c.Request.ContentLength, nil
	}
	return strconv.ParseInt(header, 10, 64)
}

func (r *Registry) rejectState(c *gin.Context, err error) {
	if errors.Is(err, errStateForged) {
		writeError(c, http.StatusNotFound, ErrBlobUploadUnknown)
		return
	}
	writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("missing or malformed upload state"))
}

// handleUploadStart begins a blob push. A request naming a mount source is
// tried as a cross-repository mount first; a request carrying the full
// digest takes the single-call path; anything else opens a multipart
// session and hands the initial state token to the client.
func (r *Registry) handleUploadStart(c *gin.Context, p routeParams) {
	mount := c.Query("mount")
	from := c.Query("from")
	if mount != "" && from != "" {
		if r.tryMount(c, p.Name, mount, from, c.Query("origin")) {
			return
		}
	}

	if dgstParam := c.Query("digest"); dgstParam != "" {
		r.singleCallPush(c, p.Name, dgstParam)
		return
	}

	session := uuid.New().String()
	upload, err := r.store.CreateMultipartUpload(c.Request.Context(), scratchKey(session))
	if err != nil {
		log.Error().Err(err).Str("repository", p.Name).Msg("failed to open multipart upload")
		c.Status(http.StatusInternalServerError)
		return
	}

	location, err := r.uploadLocation(p.Name, session, upload.ID(), &uploadState{Size: 0, Parts: []storage.Part{}})
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Info().Str("repository", p.Name).Str("session", session).Msg("upload session started")
	c.Header("location", location)
	c.Header("oci-chunk-min-length", strconv.Itoa(ChunkMinLength))
	c.Status(http.StatusAccepted)
}

// singleCallPush stores the whole body in one request. Content already
// present at the digest is not rewritten.
func (r *Registry) singleCallPush(c *gin.Context, name, dgstParam string) {
	dgst, err := parseDigest(dgstParam)
	if err != nil {
		writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("invalid digest: "+dgstParam))
		return
	}

	key := blobKey(name, dgst.String())
	ctx := c.Request.Context()

	_, err = r.store.Head(ctx, key)
	switch {
	case err == nil:
		// Already stored; idempotent push.
	case errors.Is(err, storage.ErrNotExist):
		opts := storage.PutOptions{ContentType: "application/octet-stream", SHA256: dgst.Encoded()}
		if _, err := r.store.Put(ctx, key, c.Request.Body, opts); err != nil {
			if errors.Is(err, storage.ErrHashMismatch) {
				writeError(c, http.StatusBadRequest, ErrDigestInvalid)
				return
			}
			log.Error().Err(err).Str("key", key).Msg("failed to store blob")
			c.Status(http.StatusInternalServerError)
			return
		}
	default:
		log.Error().Err(err).Str("key", key).Msg("failed to probe blob")
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Info().Str("repository", name).Str("digest", dgst.String()).Msg("blob pushed")
	c.Header("location", "/v2/"+name+"/blobs/"+dgst.String())
	c.Header("docker-content-digest", dgst.String())
	c.Status(http.StatusCreated)
}

// handleUploadChunk appends one chunk to the session. The declared start
// offset must equal the cumulative size in the decoded state; a mismatch
// is rejected without touching the session.
func (r *Registry) handleUploadChunk(c *gin.Context, p routeParams) {
	state, uploadID, err := r.decodeState(c, p.Session)
	if err != nil {
		r.rejectState(c, err)
		return
	}

	length, err := declaredLength(c)
	if err != nil || length <= 0 {
		writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("content-length header required"))
		return
	}

	rangeStart := state.Size
	if contentRange := c.GetHeader("content-range"); contentRange != "" {
		startStr, _, ok := strings.Cut(contentRange, "-")
		if !ok {
			writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("malformed content-range header"))
			return
		}
		rangeStart, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("malformed content-range header"))
			return
		}
	}

	if rangeStart != state.Size {
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if len(state.Parts) >= storage.MaxMultipartParts {
		// Too many parts to ever complete; the client must restart.
		c.Status(http.StatusInternalServerError)
		return
	}

	upload, err := r.store.ResumeMultipartUpload(c.Request.Context(), scratchKey(p.Session), uploadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrBlobUploadUnknown)
			return
		}
		log.Error().Err(err).Str("session", p.Session).Msg("failed to resume multipart upload")
		c.Status(http.StatusInternalServerError)
		return
	}

	part, err := upload.UploadPart(c.Request.Context(), len(state.Parts)+1, c.Request.Body)
	if err != nil {
		log.Error().Err(err).Str("session", p.Session).Int("part", len(state.Parts)+1).Msg("failed to upload part")
		c.Status(http.StatusInternalServerError)
		return
	}

	state.Parts = append(state.Parts, part)
	state.Size += length

	location, err := r.uploadLocation(p.Name, p.Session, uploadID, state)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Debug().
		Str("session", p.Session).
		Int("part", part.Number).
		Int64("total_size", state.Size).
		Msg("chunk appended")

	c.Header("location", location)
	c.Status(http.StatusAccepted)
}

// handleUploadCommit finalizes the session: an attached trailing chunk is
// uploaded first, the multipart upload is completed, and the assembled
// object is copied to the blob path under digest verification before the
// scratch object is removed.
func (r *Registry) handleUploadCommit(c *gin.Context, p routeParams) {
	dgstParam := c.Query("digest")
	if dgstParam == "" {
		writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("digest parameter required"))
		return
	}
	dgst, err := parseDigest(dgstParam)
	if err != nil {
		writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("invalid digest: "+dgstParam))
		return
	}

	state, uploadID, err := r.decodeState(c, p.Session)
	if err != nil {
		r.rejectState(c, err)
		return
	}

	ctx := c.Request.Context()
	upload, err := r.store.ResumeMultipartUpload(ctx, scratchKey(p.Session), uploadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			writeError(c, http.StatusNotFound, ErrBlobUploadUnknown)
			return
		}
		log.Error().Err(err).Str("session", p.Session).Msg("failed to resume multipart upload")
		c.Status(http.StatusInternalServerError)
		return
	}

	if length, err := declaredLength(c); err == nil && length > 0 {
		part, err := upload.UploadPart(ctx, len(state.Parts)+1, c.Request.Body)
		if err != nil {
			log.Error().Err(err).Str("session", p.Session).Msg("failed to upload trailing chunk")
			c.Status(http.StatusInternalServerError)
			return
		}
		state.Parts = append(state.Parts, part)
		state.Size += length
	}

	if err := upload.Complete(ctx, state.Parts); err != nil {
		log.Error().Err(err).Str("session", p.Session).Msg("failed to complete multipart upload")
		c.Status(http.StatusInternalServerError)
		return
	}

	assembled, err := r.store.Get(ctx, scratchKey(p.Session))
	if err != nil {
		log.Error().Err(err).Str("session", p.Session).Msg("failed to read assembled upload")
		c.Status(http.StatusInternalServerError)
		return
	}
	defer assembled.Body.Close()

	// The copy into the blob path verifies the assembled content against
	// the declared digest; a mismatch fails the commit.
	opts := storage.PutOptions{ContentType: "application/octet-stream", SHA256: dgst.Encoded()}
	if _, err := r.store.Put(ctx, blobKey(p.Name, dgst.String()), assembled.Body, opts); err != nil {
		if errors.Is(err, storage.ErrHashMismatch) {
			log.Warn().
				Str("session", p.Session).
				Str("digest", dgst.String()).
				Msg("assembled upload did not match declared digest")
			writeError(c, http.StatusBadRequest, ErrDigestInvalid)
			return
		}
		log.Error().Err(err).Str("session", p.Session).Msg("failed to store committed blob")
		c.Status(http.StatusInternalServerError)
		return
	}

	if err := r.store.Delete(ctx, scratchKey(p.Session)); err != nil {
		log.Warn().Err(err).Str("session", p.Session).Msg("failed to remove upload scratch object")
	}

	log.Info().
		Str("repository", p.Name).
		Str("digest", dgst.String()).
		Int64("size", state.Size).
		Int("parts", len(state.Parts)).
		Msg("chunked upload committed")

	c.Header("location", "/v2/"+p.Name+"/blobs/"+dgst.String())
	c.Header("docker-content-digest", dgst.String())
	c.Status(http.StatusCreated)
}

// handleUploadStatus reports the byte range received so far, purely by
// echoing the decoded state.
func (r *Registry) handleUploadStatus(c *gin.Context, p routeParams) {
	state, uploadID, err := r.decodeState(c, p.Session)
	if err != nil {
		r.rejectState(c, err)
		return
	}

	location, err := r.uploadLocation(p.Name, p.Session, uploadID, state)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("location", location)
	c.Header("range", fmt.Sprintf("0-%d", state.Size))
	c.Status(http.StatusNoContent)
}
