// Package horosafe holds the small safety guards shared by the HTTP surface
// and the outbound clients: artifact name validation (no path traversal when
// serving audio), bounded body reads and URL checks for configured endpoints.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxResponseBody is the default cap for reading upstream responses (10 MiB).
const MaxResponseBody int64 = 10 << 20

// ErrPathTraversal is returned when a requested artifact name escapes the
// artifact directory.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrResponseTooLarge is returned by LimitedReadAll when the limit is hit.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// ValidateArtifactName accepts flat file names made of [A-Za-z0-9_.-] with
// the given extension. Anything containing a separator or "..", or failing
// the extension check, is rejected.
func ValidateArtifactName(name, ext string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("horosafe: invalid artifact name length")
	}
	if strings.Contains(name, "..") || path.Base(name) != name {
		return ErrPathTraversal
	}
	for _, r := range name {
		if !isNameChar(r) {
			return fmt.Errorf("%w: invalid character %q", ErrPathTraversal, r)
		}
	}
	if ext != "" && !strings.HasSuffix(name, ext) {
		return fmt.Errorf("horosafe: artifact %q must end with %s", name, ext)
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

// Excerpt returns at most n bytes of b as a string, for diagnostics.
func Excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

func isNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
