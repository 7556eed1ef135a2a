package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tyemirov/highland/internal/dispatch"
	"github.com/tyemirov/highland/internal/mediastore"
	"go.uber.org/zap"
)

// Sentinel errors exposed by the catalog.
var (
	ErrNoIDs            = errors.New("catalog.no_ids")
	ErrUnknownMediaKind = errors.New("catalog.unknown_media_kind")
	ErrMissingFilename  = errors.New("catalog.missing_filename")
)

// Dispatcher is the subset of the request dispatcher the catalog needs.
type Dispatcher interface {
	Get(ctx context.Context, path string) (*dispatch.Response, error)
	Post(ctx context.Context, path string, payload any) (*dispatch.Response, error)
	Put(ctx context.Context, path string, payload any) (*dispatch.Response, error)
	Delete(ctx context.Context, path string, payload any) (*dispatch.Response, error)
	PostMedia(ctx context.Context, body io.Reader, name string, contentType string) (mediastore.UploadResult, error)
}

// Client calls the catalog endpoints through a Dispatcher.
type Client struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	newGUID    func() string
}

// NewClient builds a catalog client.
func NewClient(dispatcher Dispatcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{dispatcher: dispatcher, logger: logger, newGUID: newGUID}
}

func newGUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (client *Client) ListShows(ctx context.Context) ([]Show, error) {
	response, err := client.dispatcher.Get(ctx, "/show")
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := dispatch.Decode[showsEnvelope](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("catalog.list_shows: %w", decodeErr)
	}
	return envelope.Shows, nil
}

func (client *Client) GetShow(ctx context.Context, showID int64) (Show, error) {
	response, err := client.dispatcher.Get(ctx, "/show/"+strconv.FormatInt(showID, 10))
	if err != nil {
		return Show{}, err
	}
	envelope, decodeErr := dispatch.Decode[showEnvelope](response)
	if decodeErr != nil {
		return Show{}, fmt.Errorf("catalog.get_show: %w", decodeErr)
	}
	return envelope.Show, nil
}

func (client *Client) CreateShow(ctx context.Context, show Show) (Show, error) {
	response, err := client.dispatcher.Post(ctx, "/show", show)
	if err != nil {
		return Show{}, err
	}
	return decodeSaved(response, show, func(envelope showEnvelope) Show { return envelope.Show }, "catalog.create_show")
}

func (client *Client) UpdateShow(ctx context.Context, show Show) (Show, error) {
	response, err := client.dispatcher.Put(ctx, "/show", show)
	if err != nil {
		return Show{}, err
	}
	return decodeSaved(response, show, func(envelope showEnvelope) Show { return envelope.Show }, "catalog.update_show")
}

func (client *Client) DeleteShows(ctx context.Context, ids []int64) error {
	return client.deleteIDs(ctx, "/show", ids)
}

// ListEpisodes returns the episodes of showID.
func (client *Client) ListEpisodes(ctx context.Context, showID int64) ([]Episode, error) {
	response, err := client.dispatcher.Get(ctx, "/episodes/"+strconv.FormatInt(showID, 10))
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := dispatch.Decode[episodesEnvelope](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("catalog.list_episodes: %w", decodeErr)
	}
	return envelope.Episodes, nil
}

func (client *Client) GetEpisode(ctx context.Context, showID int64, episodeID int64) (Episode, error) {
	response, err := client.dispatcher.Get(ctx, "/episode/"+strconv.FormatInt(showID, 10)+"/"+strconv.FormatInt(episodeID, 10))
	if err != nil {
		return Episode{}, err
	}
	envelope, decodeErr := dispatch.Decode[episodeEnvelope](response)
	if decodeErr != nil {
		return Episode{}, fmt.Errorf("catalog.get_episode: %w", decodeErr)
	}
	return envelope.Episode, nil
}

func (client *Client) CreateEpisode(ctx context.Context, episode Episode) (Episode, error) {
	response, err := client.dispatcher.Post(ctx, "/episode", episode)
	if err != nil {
		return Episode{}, err
	}
	return decodeSaved(response, episode, func(envelope episodeEnvelope) Episode { return envelope.Episode }, "catalog.create_episode")
}

func (client *Client) UpdateEpisode(ctx context.Context, episode Episode) (Episode, error) {
	response, err := client.dispatcher.Put(ctx, "/episode", episode)
	if err != nil {
		return Episode{}, err
	}
	return decodeSaved(response, episode, func(envelope episodeEnvelope) Episode { return envelope.Episode }, "catalog.update_episode")
}

func (client *Client) DeleteEpisodes(ctx context.Context, ids []int64) error {
	return client.deleteIDs(ctx, "/episode", ids)
}

func (client *Client) ListAudio(ctx context.Context) ([]Audio, error) {
	response, err := client.dispatcher.Get(ctx, "/audio")
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := dispatch.Decode[audiosEnvelope](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("catalog.list_audio: %w", decodeErr)
	}
	return envelope.Audios, nil
}

func (client *Client) DeleteAudio(ctx context.Context, ids []int64) error {
	return client.deleteIDs(ctx, "/audio", ids)
}

func (client *Client) ListImages(ctx context.Context) ([]Image, error) {
	response, err := client.dispatcher.Get(ctx, "/image")
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := dispatch.Decode[imagesEnvelope](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("catalog.list_images: %w", decodeErr)
	}
	return envelope.Images, nil
}

func (client *Client) GetImage(ctx context.Context, imageID int64) (Image, error) {
	response, err := client.dispatcher.Get(ctx, "/image/"+strconv.FormatInt(imageID, 10))
	if err != nil {
		return Image{}, err
	}
	envelope, decodeErr := dispatch.Decode[imageEnvelope](response)
	if decodeErr != nil {
		return Image{}, fmt.Errorf("catalog.get_image: %w", decodeErr)
	}
	return envelope.Image, nil
}

func (client *Client) DeleteImages(ctx context.Context, ids []int64) error {
	return client.deleteIDs(ctx, "/image", ids)
}

// UploadMedia stores body under "<kind>/<guid>" and registers the object with the backend.
// Storage errors are returned unmodified; a failed registration leaves the object in storage.
func (client *Client) UploadMedia(ctx context.Context, kind MediaKind, filename string, body io.Reader, contentType string) (Upload, error) {
	if _, kindErr := ParseMediaKind(string(kind)); kindErr != nil {
		return Upload{}, kindErr
	}
	if strings.TrimSpace(filename) == "" {
		return Upload{}, ErrMissingFilename
	}
	guid := client.newGUID()
	stored, uploadErr := client.dispatcher.PostMedia(ctx, body, string(kind)+"/"+guid, contentType)
	if uploadErr != nil {
		return Upload{}, uploadErr
	}
	upload := Upload{Kind: kind, GUID: guid, Filename: filename, Key: stored.Key, URL: stored.URL}

	response, registerErr := client.dispatcher.Post(ctx, "/"+string(kind), mediaRegistration{
		Filename:    filename,
		GUID:        guid,
		ContentType: contentType,
		Key:         stored.Key,
		URL:         stored.URL,
	})
	if registerErr != nil {
		client.logger.Warn("media stored but not registered",
			zap.String("code", "catalog.register_failed"),
			zap.String("key", stored.Key),
			zap.Error(registerErr))
		return upload, registerErr
	}
	if len(response.Body) > 0 {
		if registered, decodeErr := dispatch.Decode[registeredMedia](response); decodeErr == nil {
			upload.ID = registered.ID
		}
	}
	return upload, nil
}

func (client *Client) deleteIDs(ctx context.Context, path string, ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("catalog.delete %s: %w", path, ErrNoIDs)
	}
	_, err := client.dispatcher.Delete(ctx, path, dispatch.IDList{IDs: ids})
	return err
}

func decodeSaved[E any, T any](response *dispatch.Response, submitted T, unwrap func(E) T, operation string) (T, error) {
	if len(strings.TrimSpace(string(response.Body))) == 0 {
		return submitted, nil
	}
	envelope, err := dispatch.Decode[E](response)
	if err != nil {
		return submitted, fmt.Errorf("%s: %w", operation, err)
	}
	return unwrap(envelope), nil
}
