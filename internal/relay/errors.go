package relay

import "errors"

var (
	ErrDuplicateCommandID = errors.New("relay: duplicate command id")
	ErrInvalidCommandID   = errors.New("relay: invalid command id")
	ErrNilResolver        = errors.New("relay: nil resolver")
	ErrPeerClosed         = errors.New("relay: peer closed")
	ErrServiceRunning     = errors.New("relay: service already running")
	ErrServiceNotRunning  = errors.New("relay: service not running")
)
