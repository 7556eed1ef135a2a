// Package dispatch sends authenticated requests to the backend. Every request is preceded by
// session establishment; no request leaves the process without a valid session.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tyemirov/highland/internal/mediastore"
	"github.com/tyemirov/highland/internal/session"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tyemirov/highland/internal/dispatch"

// SessionEstablisher guarantees a session before each request.
type SessionEstablisher interface {
	EstablishSession(ctx context.Context) (tokencache.CredentialBundle, error)
}

// IdentityResolver exposes the storage identity resolved at init.
type IdentityResolver interface {
	Identity() (session.Identity, session.InitStatus)
}

// MediaUploader writes objects to the media store.
type MediaUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (mediastore.UploadResult, error)
}

// Config wires a Dispatcher.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Sessions   SessionEstablisher
	Media      MediaUploader
	Identity   IdentityResolver
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// Dispatcher issues JSON requests and media uploads on behalf of views.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	sessions   SessionEstablisher
	media      MediaUploader
	identity   IdentityResolver
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New validates the configuration and returns a Dispatcher.
func New(configuration Config) (*Dispatcher, error) {
	if configuration.Sessions == nil {
		return nil, fmt.Errorf("dispatch.new: %w", ErrMissingSessions)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("dispatch.new: %w", ErrMissingBaseURL)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := configuration.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		baseURL:    baseURL,
		httpClient: httpClient,
		sessions:   configuration.Sessions,
		media:      configuration.Media,
		identity:   configuration.Identity,
		logger:     logger,
		tracer:     tracer,
	}, nil
}

// Get fetches path; only 200 is a success.
func (dispatcher *Dispatcher) Get(ctx context.Context, path string) (*Response, error) {
	return dispatcher.send(ctx, http.MethodGet, path, nil)
}

// Post creates at path; 200 and 201 are successes.
func (dispatcher *Dispatcher) Post(ctx context.Context, path string, payload any) (*Response, error) {
	return dispatcher.send(ctx, http.MethodPost, path, payload)
}

// Put updates at path; 200 and 201 are successes.
func (dispatcher *Dispatcher) Put(ctx context.Context, path string, payload any) (*Response, error) {
	return dispatcher.send(ctx, http.MethodPut, path, payload)
}

// Delete removes the ids described by payload; only 200 is a success.
func (dispatcher *Dispatcher) Delete(ctx context.Context, path string, payload any) (*Response, error) {
	return dispatcher.send(ctx, http.MethodDelete, path, payload)
}

// PostMedia uploads body under "{identityID}/{name}". Errors from the uploader are returned unmodified.
func (dispatcher *Dispatcher) PostMedia(ctx context.Context, body io.Reader, name string, contentType string) (mediastore.UploadResult, error) {
	ctx, span := dispatcher.tracer.Start(ctx, "dispatch.MEDIA", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("media.name", name), attribute.String("media.content_type", contentType)))
	defer span.End()

	if _, err := dispatcher.sessions.EstablishSession(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return mediastore.UploadResult{}, fmt.Errorf("dispatch.post_media: %w: %w", ErrSession, err)
	}
	if dispatcher.media == nil {
		return mediastore.UploadResult{}, fmt.Errorf("dispatch.post_media: %w", ErrMediaDisabled)
	}
	identityID := ""
	if dispatcher.identity != nil {
		resolved, status := dispatcher.identity.Identity()
		if status == session.InitReady {
			identityID = resolved.IdentityID
		}
	}
	if identityID == "" {
		span.SetStatus(codes.Error, "storage unavailable")
		return mediastore.UploadResult{}, fmt.Errorf("dispatch.post_media: %w", session.ErrStorageUnavailable)
	}

	result, uploadErr := dispatcher.media.Upload(ctx, identityID+"/"+name, body, contentType)
	if uploadErr != nil {
		span.RecordError(uploadErr)
		span.SetStatus(codes.Error, "upload failed")
		return mediastore.UploadResult{}, uploadErr
	}
	span.SetAttributes(attribute.String("media.key", result.Key))
	return result, nil
}

func (dispatcher *Dispatcher) send(ctx context.Context, method string, path string, payload any) (*Response, error) {
	ctx, span := dispatcher.tracer.Start(ctx, "dispatch."+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method), attribute.String("url.path", path)))
	defer span.End()

	if _, err := dispatcher.sessions.EstablishSession(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, fmt.Errorf("dispatch.%s: %w: %w", strings.ToLower(method), ErrSession, err)
	}

	request, requestErr := dispatcher.newRequest(ctx, method, path, payload)
	if requestErr != nil {
		span.RecordError(requestErr)
		return nil, fmt.Errorf("dispatch.%s: %w", strings.ToLower(method), requestErr)
	}
	response, doErr := dispatcher.httpClient.Do(request)
	if doErr != nil {
		span.RecordError(doErr)
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("dispatch.%s: %w", strings.ToLower(method), doErr)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		span.RecordError(readErr)
		return nil, fmt.Errorf("dispatch.%s: %w", strings.ToLower(method), readErr)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", response.StatusCode))

	if !successStatus(method, response.StatusCode) {
		statusErr := &StatusError{
			Method:     method,
			URL:        request.URL.String(),
			StatusCode: response.StatusCode,
			Status:     response.Status,
			Body:       body,
		}
		span.SetStatus(codes.Error, response.Status)
		dispatcher.logger.Debug("backend rejected request",
			zap.String("code", "dispatch.unexpected_status"),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return nil, statusErr
	}
	return &Response{StatusCode: response.StatusCode, Header: response.Header, Body: body}, nil
}

func (dispatcher *Dispatcher) newRequest(ctx context.Context, method string, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, marshalErr := encodePayload(payload)
		if marshalErr != nil {
			return nil, marshalErr
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, dispatcher.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", session.JSONContentType)
	}
	return request, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch typed := payload.(type) {
	case json.RawMessage:
		return typed, nil
	case []byte:
		return typed, nil
	default:
		return json.Marshal(payload)
	}
}

func successStatus(method string, statusCode int) bool {
	switch method {
	case http.MethodPost, http.MethodPut:
		return statusCode == http.StatusOK || statusCode == http.StatusCreated
	default:
		return statusCode == http.StatusOK
	}
}
