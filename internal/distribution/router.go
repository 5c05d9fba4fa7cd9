package distribution

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// routeParams holds the values bound by a matched route pattern.
type routeParams struct {
	Name      string
	Reference string
	Digest    string
	Session   string
}

type handlerFunc func(c *gin.Context, p routeParams)

// route is one row of the dispatch table. Patterns end in a fixed
// sequence of segments; the repository name greedily consumes every
// leading segment, so names may themselves contain slashes.
type route struct {
	method   string
	suffix   []string // fixed trailing segments, "{x}" binds a value
	writable bool
	handler  handlerFunc
}

func (rt *route) match(segments []string) (routeParams, bool) {
	var p routeParams
	if len(segments) < len(rt.suffix)+1 {
		return p, false
	}
	tail := segments[len(segments)-len(rt.suffix):]
	for i, want := range rt.suffix {
		got := tail[i]
		switch want {
		case "{reference}":
			if !validSegment(got) {
				return p, false
			}
			p.Reference = got
		case "{digest}":
			if !validSegment(got) {
				return p, false
			}
			p.Digest = got
		case "{session}":
			if !validSegment(got) {
				return p, false
			}
			p.Session = got
		default:
			if got != want {
				return p, false
			}
		}
	}
	head := segments[:len(segments)-len(rt.suffix)]
	if len(head) == 0 {
		return p, false
	}
	for _, seg := range head {
		if !validSegment(seg) {
			return p, false
		}
	}
	p.Name = strings.Join(head, "/")
	return p, true
}

// validSegment reports whether s is usable as one segment of an object
// key. Empty and dot segments would change meaning once the key is joined
// onto a filesystem path.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}

func (r *Registry) routes() []route {
	return []route{
		{http.MethodGet, []string{"blobs", "uploads", "{session}"}, false, r.handleUploadStatus},
		{http.MethodPatch, []string{"blobs", "uploads", "{session}"}, true, r.handleUploadChunk},
		{http.MethodPut, []string{"blobs", "uploads", "{session}"}, true, r.handleUploadCommit},
		{http.MethodPost, []string{"blobs", "uploads", ""}, true, r.handleUploadStart},
		{http.MethodGet, []string{"blobs", "{digest}"}, false, r.handleBlobGet},
		{http.MethodHead, []string{"blobs", "{digest}"}, false, r.handleBlobHead},
		{http.MethodDelete, []string{"blobs", "{digest}"}, true, r.handleBlobDelete},
		{http.MethodGet, []string{"tags", "list"}, false, r.handleTagsList},
		{http.MethodGet, []string{"manifests", "{reference}"}, false, r.handleManifestGet},
		{http.MethodHead, []string{"manifests", "{reference}"}, false, r.handleManifestHead},
		{http.MethodPut, []string{"manifests", "{reference}"}, true, r.handleManifestPut},
		{http.MethodDelete, []string{"manifests", "{reference}"}, true, r.handleManifestDelete},
	}
}

// Handler dispatches every /v2/ request through the route table.
// Register it as a catch-all: router.Any("/v2/*path", reg.Handler()).
func (r *Registry) Handler() gin.HandlerFunc {
	routes := r.routes()
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Param("path"), "/")

		// Version check endpoint.
		if path == "" {
			if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
				c.String(http.StatusOK, "ok")
				return
			}
			c.String(http.StatusNotFound, "404 page not found")
			return
		}

		segments := strings.Split(path, "/")
		for i := range routes {
			rt := &routes[i]
			if rt.method != c.Request.Method {
				continue
			}
			p, ok := rt.match(segments)
			if !ok {
				continue
			}
			if rt.writable && !r.authorize(c) {
				return
			}
			rt.handler(c, p)
			return
		}

		c.String(http.StatusNotFound, "404 page not found")
	}
}

func (r *Registry) authorize(c *gin.Context) bool {
	if r.auth == nil {
		return true
	}
	if err := r.auth.Authorize(c.Request); err != nil {
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("write request rejected")
		c.Header("www-authenticate", `basic realm="`+c.Request.URL.String()+`"`)
		writeError(c, http.StatusUnauthorized, ErrUnauthorized)
		return false
	}
	return true
}
