package protocol

import "errors"

var (
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrMalformedResult   = errors.New("protocol: malformed result")
	ErrMalformedCommand  = errors.New("protocol: malformed command")
	ErrMissingCommandID  = errors.New("protocol: missing command id")
	ErrMissingAction     = errors.New("protocol: missing action")
)
