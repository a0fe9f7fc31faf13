package handler

import (
	"net/http"

	"github.com/gorilla/sessions"
)

// NewSessionStore creates the cookie store holding the OAuth connect state.
// The flow only needs the cookie across one redirect.
func NewSessionStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   15 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
