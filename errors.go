package packetguard

import "errors"

var (
	// ErrNoActiveSession is returned by packet sources when no capture
	// session is currently recording. The recognizer treats it as an idle
	// cycle rather than a failure.
	ErrNoActiveSession = errors.New("no active capture session")

	// ErrUnknownSession is returned when a packet query names a session the
	// source has never seen.
	ErrUnknownSession = errors.New("unknown capture session")

	// ErrUnsupportedPlatform is returned by mitigation command builders when
	// no command shape exists for the configured platform.
	ErrUnsupportedPlatform = errors.New("mitigation not supported on this platform")
)
