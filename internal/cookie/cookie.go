package cookie

import (
	"net/http"
	"time"

	"github.com/aptospilot/aptospilot/internal/envutil"
	"github.com/aptospilot/aptospilot/internal/log"
)

// Cookie names used by aptospilot
const (
	ProfileCookie = "aptospilot_profile"
	CSRFCookie    = "aptospilot_csrf"
)

// SetProfile sets the signed browser-profile cookie
func SetProfile(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Profile cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// SetCSRF sets a CSRF token cookie. Scripts read it and echo it back in a
// header on state-changing requests.
func SetCSRF(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: false,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetProfile retrieves the profile cookie value
func GetProfile(r *http.Request) (string, error) {
	return Get(r, ProfileCookie)
}

// GetCSRF retrieves the CSRF cookie value
func GetCSRF(r *http.Request) (string, error) {
	return Get(r, CSRFCookie)
}
