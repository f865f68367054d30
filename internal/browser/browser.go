// Package browser defines the narrow contract the crawler needs from a
// rendering engine and provides a chromedp-backed implementation.
package browser

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by operations on a session after Close.
var ErrSessionClosed = errors.New("browser: session closed")

// ResponseEvent describes one network response observed by a session.
type ResponseEvent struct {
	URL          string
	Status       int64
	MIMEType     string
	ResourceType string
}

// Engine opens isolated browsing sessions.
type Engine interface {
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is a single browsing context owned by one visit.
//
// The response stream exists from the moment the session is opened, so every
// response emitted by a later Navigate is observable. The channel is closed
// when the session is closed.
type Session interface {
	Responses() <-chan ResponseEvent
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// HTML returns the serialized document of the current page.
	HTML(ctx context.Context) (string, error)
	Close() error
}
