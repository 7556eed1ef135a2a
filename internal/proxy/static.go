package proxy

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeEmbeddedStaticJS writes a single embedded JS file with cache headers.
func ServeEmbeddedStaticJS(contextGin *gin.Context, filesystem fs.FS, path string) {
	data, readErr := fs.ReadFile(filesystem, path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8", data)
}
