package distribution

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/rs/zerolog/log"
)

// defaultTagPageSize is the page size used when the client does not ask
// for one.
const defaultTagPageSize = 50

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// handleTagsList enumerates the references stored under the repository's
// manifest prefix. Ordering is the lexical order of the underlying prefix
// listing. When the page is full a rel=next link carries the cursor.
func (r *Registry) handleTagsList(c *gin.Context, p routeParams) {
	limit := defaultTagPageSize
	if n := c.Query("n"); n != "" {
		parsed, err := strconv.Atoi(n)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, ErrUnsupported.WithDetail("invalid page size"))
			return
		}
		limit = parsed
	}

	prefix := p.Name + "/manifests/"
	opts := storage.ListOptions{Prefix: prefix, Limit: limit}
	if last := c.Query("last"); last != "" {
		opts.StartAfter = prefix + last
	}

	infos, err := r.store.List(c.Request.Context(), opts)
	if err != nil {
		log.Error().Err(err).Str("repository", p.Name).Msg("failed to list tags")
		c.Status(http.StatusInternalServerError)
		return
	}

	tags := make([]string, 0, len(infos))
	for _, info := range infos {
		if idx := strings.LastIndex(info.Key, "/"); idx >= 0 {
			tags = append(tags, info.Key[idx+1:])
		}
	}

	if len(tags) >= limit && len(tags) > 0 {
		q := url.Values{}
		q.Set("n", strconv.Itoa(limit))
		q.Set("last", tags[len(tags)-1])
		next := *c.Request.URL
		next.RawQuery = q.Encode()
		c.Header("link", "<"+next.String()+">; rel=next")
	}

	c.JSON(http.StatusOK, tagList{Name: p.Name, Tags: tags})
}
