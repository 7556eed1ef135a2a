// Package mediastore writes media objects to Google Cloud Storage with per-user credentials.
package mediastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

const (
	defaultPublicBaseURL = "https://storage.googleapis.com"
	publicReadACL        = "publicRead"
)

var (
	ErrMissingBucket = errors.New("media_store.missing_bucket")
	ErrMissingKey    = errors.New("media_store.missing_key")
)

// Credentials supplies the token source the storage client authenticates with.
type Credentials interface {
	StorageTokenSource() (oauth2.TokenSource, error)
}

// Config configures a GCSUploader.
type Config struct {
	Bucket        string
	PublicBaseURL string
	Credentials   Credentials
	// ClientOptions are appended after the credential option (endpoints, HTTP clients, emulators).
	ClientOptions []option.ClientOption
	// ChunkSize above zero enables resumable uploads in chunks of that size.
	ChunkSize int
	Logger    *zap.Logger
}

// UploadResult locates an uploaded object.
type UploadResult struct {
	Bucket string
	Key    string
	URL    string
}

// GCSUploader uploads publicly readable objects. The storage client is built on first use and
// rebuilt whenever the credentials hand out a different token source.
type GCSUploader struct {
	bucket        string
	publicBaseURL string
	credentials   Credentials
	clientOptions []option.ClientOption
	chunkSize     int
	logger        *zap.Logger

	mutex  sync.Mutex
	client *storage.Client
	// source is the token source client was built with; a different source means a different identity.
	source oauth2.TokenSource
}

// NewGCSUploader validates the configuration.
func NewGCSUploader(configuration Config) (*GCSUploader, error) {
	bucket := strings.TrimSpace(configuration.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("media_store.new: %w", ErrMissingBucket)
	}
	publicBaseURL := strings.TrimRight(strings.TrimSpace(configuration.PublicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = defaultPublicBaseURL
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSUploader{
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		credentials:   configuration.Credentials,
		clientOptions: configuration.ClientOptions,
		chunkSize:     configuration.ChunkSize,
		logger:        logger,
	}, nil
}

// Upload writes body to key with the given content type and a public-read ACL.
// Errors from the credential source and the storage service are returned unmodified.
func (uploader *GCSUploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) (UploadResult, error) {
	if strings.TrimSpace(key) == "" {
		return UploadResult{}, ErrMissingKey
	}
	client, clientErr := uploader.storageClient(ctx)
	if clientErr != nil {
		return UploadResult{}, clientErr
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := client.Bucket(uploader.bucket).Object(key).NewWriter(uploadCtx)
	writer.ContentType = contentType
	writer.PredefinedACL = publicReadACL
	writer.ChunkSize = uploader.chunkSize

	if _, copyErr := io.Copy(writer, body); copyErr != nil {
		cancel()
		_ = writer.Close()
		return UploadResult{}, copyErr
	}
	if closeErr := writer.Close(); closeErr != nil {
		uploader.logger.Warn("media upload failed",
			zap.String("code", "media_store.upload_failed"),
			zap.String("bucket", uploader.bucket),
			zap.String("key", key),
			zap.Error(closeErr))
		return UploadResult{}, closeErr
	}
	return UploadResult{
		Bucket: uploader.bucket,
		Key:    key,
		URL:    uploader.publicBaseURL + "/" + uploader.bucket + "/" + key,
	}, nil
}

// Close releases the storage client if one was built.
func (uploader *GCSUploader) Close() error {
	uploader.mutex.Lock()
	defer uploader.mutex.Unlock()
	return uploader.releaseLocked()
}

func (uploader *GCSUploader) releaseLocked() error {
	if uploader.client == nil {
		return nil
	}
	err := uploader.client.Close()
	uploader.client = nil
	uploader.source = nil
	return err
}

func (uploader *GCSUploader) storageClient(ctx context.Context) (*storage.Client, error) {
	uploader.mutex.Lock()
	defer uploader.mutex.Unlock()

	var source oauth2.TokenSource
	if uploader.credentials != nil {
		current, sourceErr := uploader.credentials.StorageTokenSource()
		if sourceErr != nil {
			return nil, sourceErr
		}
		source = current
	}
	if uploader.client != nil {
		if sameTokenSource(uploader.source, source) {
			return uploader.client, nil
		}
		uploader.logger.Debug("storage credentials changed; rebuilding client",
			zap.String("code", "media_store.credentials_changed"))
		if closeErr := uploader.releaseLocked(); closeErr != nil {
			uploader.logger.Warn("storage client close failed",
				zap.String("code", "media_store.close_failed"),
				zap.Error(closeErr))
		}
	}

	options := make([]option.ClientOption, 0, len(uploader.clientOptions)+1)
	if source != nil {
		options = append(options, option.WithTokenSource(source))
	}
	options = append(options, uploader.clientOptions...)
	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("media_store.client: %w", err)
	}
	uploader.client = client
	uploader.source = source
	return client, nil
}

// sameTokenSource reports whether two sources are the same value. Sources of uncomparable types
// are never considered the same.
func sameTokenSource(cached oauth2.TokenSource, current oauth2.TokenSource) bool {
	if cached == nil || current == nil {
		return cached == nil && current == nil
	}
	cachedType := reflect.TypeOf(cached)
	if cachedType != reflect.TypeOf(current) || !cachedType.Comparable() {
		return false
	}
	return cached == current
}
