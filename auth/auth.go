package auth

import "net/http"

// Client decides whether a request may read chat data. The chat.db file is a
// user's personal history, so the gate sits in front of every handler even
// though the default deployment allows everything.
type Client interface {
	// Auth returns nil if the request is allowed.
	Auth(r *http.Request) error
}
