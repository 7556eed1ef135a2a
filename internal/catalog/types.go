// Package catalog provides typed clients for the show, episode, audio, and image endpoints.
package catalog

import (
	"fmt"
	"strings"
)

// Show is a podcast owned by the signed-in creator.
type Show struct {
	ID          int64  `json:"id,omitempty" validate:"required"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description"`
	Alias       string `json:"alias,omitempty"`
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
	Category    string `json:"category,omitempty"`
	Explicit    bool   `json:"explicit"`
	ImageID     *int64 `json:"image_id"`
}

// Episode belongs to a show and references uploaded audio and image assets.
type Episode struct {
	ID          int64  `json:"id,omitempty" validate:"required"`
	ShowID      int64  `json:"show_id" validate:"required"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description"`
	Alias       string `json:"alias,omitempty"`
	AudioID     *int64 `json:"audio_id"`
	ImageID     *int64 `json:"image_id"`
	DraftStatus string `json:"draft_status,omitempty"`
	Explicit    bool   `json:"explicit"`
}

// Audio is an uploaded audio asset.
type Audio struct {
	ID        int64   `json:"id" validate:"required"`
	Filename  string  `json:"filename"`
	GUID      string  `json:"guid"`
	Duration  float64 `json:"duration" validate:"gte=0"`
	URL       string  `json:"url,omitempty"`
	CreatedAt string  `json:"create_datetime,omitempty"`
}

// Image is an uploaded image asset.
type Image struct {
	ID       int64  `json:"id" validate:"required"`
	Filename string `json:"filename"`
	GUID     string `json:"guid"`
	URL      string `json:"url,omitempty"`
}

// MediaKind names a media collection; it is both the storage prefix and the registration path.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
)

// ParseMediaKind accepts "audio" or "image".
func ParseMediaKind(raw string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(raw))) {
	case MediaAudio:
		return MediaAudio, nil
	case MediaImage:
		return MediaImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMediaKind, raw)
	}
}

// Upload describes a media object written to storage and registered with the backend.
type Upload struct {
	Kind     MediaKind `json:"kind"`
	GUID     string    `json:"guid"`
	Filename string    `json:"filename"`
	Key      string    `json:"key"`
	URL      string    `json:"url"`
	ID       int64     `json:"id,omitempty"`
}

type showEnvelope struct {
	Show Show `json:"show"`
}

type showsEnvelope struct {
	Shows []Show `json:"shows" validate:"dive"`
}

type episodeEnvelope struct {
	Episode Episode `json:"episode"`
}

type episodesEnvelope struct {
	Episodes []Episode `json:"episodes" validate:"dive"`
}

type audiosEnvelope struct {
	Audios []Audio `json:"audios" validate:"dive"`
}

type imageEnvelope struct {
	Image Image `json:"image"`
}

type imagesEnvelope struct {
	Images []Image `json:"images" validate:"dive"`
}

type mediaRegistration struct {
	Filename    string `json:"filename"`
	GUID        string `json:"guid"`
	ContentType string `json:"content_type"`
	Key         string `json:"key"`
	URL         string `json:"url"`
}

type registeredMedia struct {
	ID int64 `json:"id"`
}
