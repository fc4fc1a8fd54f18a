package model

import "errors"

// Domain sentinel errors. Services wrap these with context; handlers map
// them onto the response error codes.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrExpelled           = errors.New("participant expelled")
	ErrDecode             = errors.New("malformed exam content")
	ErrExternalService    = errors.New("external service failure")
)
