package core

import "errors"

var (
	ErrMissingOrigin          = errors.New("missing origin")
	ErrUnknownMethod          = errors.New("unknown method")
	ErrInvalidParams          = errors.New("invalid params")
	ErrNotConnected           = errors.New("not connected")
	ErrTimeout                = errors.New("connection timed out")
	ErrCanceled               = errors.New("canceled")
	ErrMalformedSignature     = errors.New("malformed signature")
	ErrInvalidRedirectPayload = errors.New("invalid redirect payload")
	ErrControllerNotReady     = errors.New("controller not ready")
	ErrInvalidPolicy          = errors.New("invalid policy")
	ErrSessionExpired         = errors.New("session has expired")
	ErrNotFound               = errors.New("not found")
	ErrNoPendingRequest       = errors.New("no pending request")
	ErrCallbackRejected       = errors.New("callback rejected")
	ErrInvalidToken           = errors.New("invalid token")
)
