package proxy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/internal/catalog"
	"github.com/tyemirov/highland/internal/dispatch"
	"github.com/tyemirov/highland/internal/session"
	"go.uber.org/zap"
)

// HandleMediaUpload stores the multipart "file" field as a media asset of the kind in the path.
// The storage identity is resolved first when the proxy started from cached credentials.
func HandleMediaUpload(logger *zap.Logger, sessions Sessions, media MediaCatalog, maxUploadBytes int64) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		kind, kindErr := catalog.ParseMediaKind(contextGin.Param("kind"))
		if kindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown_media_kind"})
			return
		}
		if _, _, initErr := resolveIdentity(contextGin.Request.Context(), sessions); initErr != nil {
			logger.Warn("identity resolution failed before upload",
				zap.String("code", "proxy.media.init_failed"),
				zap.Error(initErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorSessionUnavailable})
			return
		}

		contextGin.Request.Body = http.MaxBytesReader(contextGin.Writer, contextGin.Request.Body, maxUploadBytes)
		fileHeader, formErr := contextGin.FormFile("file")
		if formErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
			return
		}
		file, openErr := fileHeader.Open()
		if openErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
			return
		}
		defer file.Close()

		contentType := fileHeader.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		upload, uploadErr := media.UploadMedia(contextGin.Request.Context(), kind, fileHeader.Filename, file, contentType)
		if uploadErr != nil {
			var statusErr *dispatch.StatusError
			switch {
			case errors.Is(uploadErr, dispatch.ErrSession):
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorSessionUnavailable})
			case errors.Is(uploadErr, session.ErrStorageUnavailable), errors.Is(uploadErr, dispatch.ErrMediaDisabled):
				contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": errorStorageUnavailable})
			case errors.As(uploadErr, &statusErr):
				contextGin.Data(statusErr.StatusCode, "application/json; charset=utf-8", statusErr.Body)
				contextGin.Abort()
			default:
				logger.Error("media upload failed",
					zap.String("code", "proxy.upload_failed"),
					zap.String("kind", string(kind)),
					zap.String("filename", fileHeader.Filename),
					zap.Error(uploadErr))
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upload_failed"})
			}
			return
		}
		contextGin.JSON(http.StatusCreated, upload)
	}
}
