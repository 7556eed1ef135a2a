package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/internal/dispatch"
	"go.uber.org/zap"
)

const maxForwardBodyBytes = 8 << 20

var errInvalidJSON = errors.New("proxy.invalid_json")

// MountAPIRoutes forwards GET, POST, PUT and DELETE under router to the backend.
// Backend rejections are relayed with their status and body.
func MountAPIRoutes(router gin.IRouter, backend Backend, logger *zap.Logger) {
	handler := forwardHandler(backend, logger)
	router.GET("/*path", handler)
	router.POST("/*path", handler)
	router.PUT("/*path", handler)
	router.DELETE("/*path", handler)
}

func forwardHandler(backend Backend, logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		target := contextGin.Param("path")
		if rawQuery := contextGin.Request.URL.RawQuery; rawQuery != "" {
			target += "?" + rawQuery
		}

		payload, payloadErr := readPayload(contextGin.Request)
		if payloadErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		ctx := contextGin.Request.Context()
		var response *dispatch.Response
		var err error
		switch contextGin.Request.Method {
		case http.MethodGet:
			response, err = backend.Get(ctx, target)
		case http.MethodPost:
			response, err = backend.Post(ctx, target, payload)
		case http.MethodPut:
			response, err = backend.Put(ctx, target, payload)
		case http.MethodDelete:
			response, err = backend.Delete(ctx, target, payload)
		default:
			contextGin.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			writeBackendError(contextGin, logger, err)
			return
		}
		contextGin.Data(response.StatusCode, contentTypeOf(response.Header), response.Body)
	}
}

// readPayload returns nil for an empty body so the dispatcher sends no content.
func readPayload(request *http.Request) (any, error) {
	if request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(request.Body, maxForwardBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, errInvalidJSON
	}
	return json.RawMessage(body), nil
}

func writeBackendError(contextGin *gin.Context, logger *zap.Logger, err error) {
	var statusErr *dispatch.StatusError
	switch {
	case errors.Is(err, dispatch.ErrSession):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorSessionUnavailable})
	case errors.As(err, &statusErr):
		contextGin.Data(statusErr.StatusCode, "application/json; charset=utf-8", statusErr.Body)
		contextGin.Abort()
	default:
		logger.Warn("backend request failed",
			zap.String("code", "proxy.backend_unreachable"),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "backend_unreachable"})
	}
}

func contentTypeOf(header http.Header) string {
	if contentType := header.Get("Content-Type"); contentType != "" {
		return contentType
	}
	return "application/json; charset=utf-8"
}
