package web

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/example/laundry-scheduler/internal/identity"
)

const cookieName = "laundry_session"

const sessionMaxAge = 14 * 24 * time.Hour

// Sessions issues and reads signed session cookies. A session is set after
// the first successful bearer-token or password authentication so later
// requests skip token decoding.
type Sessions struct {
	sc *securecookie.SecureCookie
}

func NewSessions(hashKey, blockKey []byte) *Sessions {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionMaxAge.Seconds()))
	return &Sessions{sc: sc}
}

type sessionPayload struct {
	UID  string
	Name string
}

func (s *Sessions) Set(w http.ResponseWriter, r *http.Request, id identity.Identity) error {
	encoded, err := s.sc.Encode(cookieName, sessionPayload{UID: id.UserID, Name: id.DisplayName})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return nil
}

func (s *Sessions) Get(r *http.Request) (identity.Identity, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return identity.Identity{}, false
	}
	var p sessionPayload
	if err := s.sc.Decode(cookieName, c.Value, &p); err != nil || p.UID == "" {
		return identity.Identity{}, false
	}
	return identity.Identity{UserID: p.UID, DisplayName: p.Name}, true
}

func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
