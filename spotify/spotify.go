// Package spotify talks to the Spotify Web API: the OAuth login of the account that owns the player
// and the playback calls made on its behalf.
//
// Response types are based on https://developer.spotify.com/documentation/web-api/reference/
package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	AuthURL  = "https://accounts.spotify.com/authorize"
	TokenURL = "https://accounts.spotify.com/api/token"
	BaseURL  = "https://api.spotify.com/v1"
)

// Scopes requested at login. Starting playback needs user-modify-playback-state.
var Scopes = []string{
	"user-read-email",
	"user-read-private",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"streaming",
}

var ErrNotAuthorized = errors.New("spotify: not logged in, visit /login first")

// Error is an error object returned by the Web API.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	// Reason is set on player errors, e.g. PREMIUM_REQUIRED or NO_ACTIVE_DEVICE.
	Reason string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("spotify API error %d: %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("spotify API error %d: %s", e.Status, e.Message)
}

// PremiumRequired reports whether the call failed because the account is not on a premium plan.
func (e *Error) PremiumRequired() bool {
	return e.Reason == "PREMIUM_REQUIRED"
}

func decodeError(status int, body []byte) error {
	var wrapped struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Error == nil {
		return &Error{Status: status, Message: strings.TrimSpace(string(body))}
	}
	if wrapped.Error.Status == 0 {
		wrapped.Error.Status = status
	}
	return wrapped.Error
}

// AlbumURI builds the context URI of an album id.
func AlbumURI(id string) string {
	return "spotify:album:" + id
}

// ParseURI splits a spotify:<kind>:<id> URI.
func ParseURI(uri string) (kind, id string, err error) {
	parts := strings.Split(uri, ":")
	if len(parts) != 3 || parts[0] != "spotify" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid spotify URI %q", uri)
	}
	return parts[1], parts[2], nil
}
