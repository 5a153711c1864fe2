// Package speech turns notice text into playable MP3 artifacts.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// ErrSynthesisFailed wraps every synthesis failure. Callers log it and carry
// on without audio.
var ErrSynthesisFailed = errors.New("speech: synthesis failed")

// Artifact is a stored audio file, addressed by its flat file name.
type Artifact struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Synthesizer converts text in the given language (BCP-47 short code, e.g.
// "hi") into a stored artifact. Calls block for seconds.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (*Artifact, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text, lang string) (*Artifact, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text, lang string) (*Artifact, error) {
	return f(ctx, text, lang)
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSynthesisFailed, fmt.Sprintf(format, args...))
}
