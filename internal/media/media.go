// Package media validates that a submitted audio reference points at an
// accepted media type. The reference is an opaque locator, so classification
// works on the name, not the content.
package media

import (
	"errors"
	"mime"
	"net/url"
	"path"
	"strings"
)

// ErrUnsupportedMedia is returned for references that are not audio.
var ErrUnsupportedMedia = errors.New("unsupported media")

// Classifier decides whether an audio reference is acceptable.
type Classifier interface {
	Accept(audioRef string) error
}

// ExtClassifier accepts references whose extension maps to an audio/* media
// type. Extensions the platform mime table misses are covered explicitly.
type ExtClassifier struct{}

var knownAudio = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".oga":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".opus": true,
	".wma":  true,
}

func (ExtClassifier) Accept(audioRef string) error {
	ref := audioRef
	if u, err := url.Parse(audioRef); err == nil && u.Path != "" {
		ref = u.Path
	}
	ext := strings.ToLower(path.Ext(ref))
	if ext == "" {
		return ErrUnsupportedMedia
	}
	if knownAudio[ext] {
		return nil
	}
	if strings.HasPrefix(mime.TypeByExtension(ext), "audio/") {
		return nil
	}
	return ErrUnsupportedMedia
}
