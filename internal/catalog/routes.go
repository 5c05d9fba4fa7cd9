package catalog

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Routes registers the browse API backed by the catalog.
func Routes(router *gin.Engine, svc *Service) {
	api := router.Group("/api")

	api.GET("/repositories", func(c *gin.Context) {
		names, err := svc.Repositories(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to query repositories")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list repositories"})
			return
		}
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"repositories": names})
	})

	api.GET("/tags/*name", func(c *gin.Context) {
		name := strings.TrimPrefix(c.Param("name"), "/")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "repository name required"})
			return
		}
		tags, err := svc.Tags(c.Request.Context(), name)
		if err != nil {
			log.Error().Err(err).Str("repository", name).Msg("failed to query tags")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tags"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repository": name, "tags": tags})
	})
}
