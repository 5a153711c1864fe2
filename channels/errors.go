package channels

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by factories when mandatory credentials are
// missing.
var ErrNotConfigured = errors.New("channels: not configured")

// ErrNoPlatformFactory is returned when no factory is registered for a
// platform.
type ErrNoPlatformFactory struct {
	Channel  string
	Platform string
}

func (e *ErrNoPlatformFactory) Error() string {
	return fmt.Sprintf("channels: no factory for platform %q (channel %s)", e.Platform, e.Channel)
}

// ErrSendFailed is returned when a message could not be delivered to the
// platform.
type ErrSendFailed struct {
	Channel  string
	Platform string
	Status   int // HTTP status from the platform, 0 for transport errors
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channels: send failed on %s (%s): http %d: %v", e.Channel, e.Platform, e.Status, e.Cause)
	}
	return fmt.Sprintf("channels: send failed on %s (%s): %v", e.Channel, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
