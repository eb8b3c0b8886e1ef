package service

import "errors"

// Business errors surfaced by the service layer. Handlers and the realtime
// dispatcher map these to HTTP status codes or error events; anything else
// is treated as an internal error and never shown verbatim to clients.
var (
	ErrSessionExists   = errors.New("session id already exists")
	ErrSessionNotFound = errors.New("session does not exist")
	ErrUnauthorized    = errors.New("invalid session password")
	ErrForbidden       = errors.New("insufficient role for this operation")
	ErrNotJoined       = errors.New("connection has not joined this session")
	ErrUserNotFound    = errors.New("participant not found")
	ErrInternalServer  = errors.New("internal server error")
)
