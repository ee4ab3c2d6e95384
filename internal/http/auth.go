package httpx

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RequireBearer rejects every request whose Authorization header is not
// "Bearer <token>". An empty token rejects everything.
func RequireBearer(token string, next http.Handler) http.Handler {
	expected := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
			hlog.FromRequest(r).Debug().Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="nxcache"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap puts the request logger, request id, access log and bearer check in
// front of h.
func Wrap(h http.Handler, token string, logger zerolog.Logger) http.Handler {
	out := RequireBearer(token, h)
	out = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(out)
	out = hlog.RequestIDHandler("req_id", "X-Request-Id")(out)
	return hlog.NewHandler(logger)(out)
}
