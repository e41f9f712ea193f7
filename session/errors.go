package session

import "errors"

// Errors returned by Session operations.
var (
	// ErrSessionNotFound is returned by UpdateSession before the server has
	// sent session.created.
	ErrSessionNotFound = errors.New("session: no session established")

	// ErrNotConnected is returned by sends once the event stream has ended.
	ErrNotConnected = errors.New("session: not connected")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNoAudioDevices is returned by StartHandlingVoice when neither a
	// capture nor an output device is configured.
	ErrNoAudioDevices = errors.New("session: no audio devices configured")
)
