package session

import "errors"

// ErrAuthTimeout is returned when a client does not send Login60
// within the authentication deadline.
var ErrAuthTimeout = errors.New("session: authentication timed out")

// ErrSessionTimeout is returned when a connection sits idle past the
// inactivity deadline.
var ErrSessionTimeout = errors.New("session: idle timeout")

// ErrInvalidCredentials is returned when the UIN is unknown or the
// submitted login hash does not match the expected one.
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// ErrShutdown is returned when the server-wide shutdown signal fires
// while a session is running.
var ErrShutdown = errors.New("session: server shutdown")
