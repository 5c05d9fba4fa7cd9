package distribution

import (
	"context"
	"net/http"
	"time"

	"github.com/lgulliver/ballast/internal/storage"
	"github.com/opencontainers/go-digest"
)

// ChunkMinLength is the minimum chunk size hinted to clients on upload
// start. It is a protocol hint, not enforced.
const ChunkMinLength = 5 << 20 // 5 MiB

// Cache lifetimes by reference shape. Content at a digest never changes;
// tags are mutable and must expire quickly.
const (
	blobCacheControl           = "public, max-age=31536000; immutable"
	digestManifestCacheControl = "public, max-age=86400"
	tagManifestCacheControl    = "public, max-age=600"

	blobCacheTTL           = 24 * time.Hour
	digestManifestCacheTTL = 24 * time.Hour
	tagManifestCacheTTL    = 10 * time.Minute
)

// Authorizer gates write requests. Returning an error short-circuits the
// request with a 401 challenge.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// CachedResponse is a GET response held by the edge cache.
type CachedResponse struct {
	Digest       string `json:"digest"`
	ContentType  string `json:"content_type,omitempty"`
	CacheControl string `json:"cache_control"`
	Body         []byte `json:"body"`
}

// ResponseCache is a read-through cache in front of blob and manifest
// GETs. Store must not block the caller.
type ResponseCache interface {
	Lookup(ctx context.Context, key string) (*CachedResponse, error)
	Store(key string, resp *CachedResponse, ttl time.Duration)
}

// CatalogRecorder observes manifest and tag writes for the browse catalog.
type CatalogRecorder interface {
	RecordManifest(ctx context.Context, repository, dgst string) error
	RecordTag(ctx context.Context, repository, tag, dgst string) error
	DeleteTag(ctx context.Context, repository, tag string) error
}

// Registry implements the distribution protocol over an object store.
// It holds no per-request state: upload progress is round-tripped through
// the client as a signed continuation token.
type Registry struct {
	store       storage.ObjectStore
	cache       ResponseCache
	catalog     CatalogRecorder
	auth        Authorizer
	stateSecret []byte
	origin      *http.Client
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache attaches an edge response cache.
func WithCache(cache ResponseCache) Option {
	return func(r *Registry) { r.cache = cache }
}

// WithCatalog attaches a catalog recorder fed by manifest writes.
func WithCatalog(catalog CatalogRecorder) Option {
	return func(r *Registry) { r.catalog = catalog }
}

// WithAuthorizer attaches the write gate.
func WithAuthorizer(auth Authorizer) Option {
	return func(r *Registry) { r.auth = auth }
}

// WithStateSecret sets the key used to sign upload continuation tokens.
func WithStateSecret(secret []byte) Option {
	return func(r *Registry) { r.stateSecret = secret }
}

// WithOriginClient sets the HTTP client used for cross-origin mounts.
func WithOriginClient(client *http.Client) Option {
	return func(r *Registry) { r.origin = client }
}

// New creates a Registry backed by the given object store.
func New(store storage.ObjectStore, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		origin: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func blobKey(repository, dgst string) string {
	return repository + "/blobs/" + dgst
}

func manifestKey(repository, reference string) string {
	return repository + "/manifests/" + reference
}

func scratchKey(session string) string {
	return "uploads/" + session
}

// isDigest reports whether reference is a well-formed digest string.
// Anything else is treated as a mutable tag.
func isDigest(reference string) bool {
	_, err := digest.Parse(reference)
	return err == nil
}

// parseDigest validates a client-supplied digest and returns it.
func parseDigest(s string) (digest.Digest, error) {
	dgst, err := digest.Parse(s)
	if err != nil {
		return "", err
	}
	if dgst.Algorithm() != digest.SHA256 {
		return "", digest.ErrDigestUnsupported
	}
	return dgst, nil
}

func manifestCacheControl(reference string) string {
	if isDigest(reference) {
		return digestManifestCacheControl
	}
	return tagManifestCacheControl
}

func manifestCacheTTL(reference string) time.Duration {
	if isDigest(reference) {
		return digestManifestCacheTTL
	}
	return tagManifestCacheTTL
}
