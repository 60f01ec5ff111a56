// Package transcribe wraps the external speech-to-text collaborator.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// Result is what the collaborator returns for one audio reference.
type Result struct {
	DurationSec float64
	Text        string
}

// Error classifies a collaborator failure. Transient failures are retried via
// queue redelivery; permanent ones fail the job immediately.
type Error struct {
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("transcription %s error: %v", kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a transient transcription failure.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient
}

// Transcriber converts an audio reference to text and a measured duration.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (Result, error)
}
