package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader is read from the request and echoed on the response
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID assigns each request an id using chi's RequestID. A well-formed
// incoming X-Request-ID is kept so ids can be correlated across services; a
// malformed one is dropped and chi generates a fresh id instead.
func RequestID(next http.Handler) http.Handler {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimiddleware.GetReqID(r.Context())
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
	assign := chimiddleware.RequestID(echo)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validRequestID(r.Header.Get(chimiddleware.RequestIDHeader)) {
			r.Header.Del(chimiddleware.RequestIDHeader)
		}
		assign.ServeHTTP(w, r)
	})
}

// validRequestID accepts printable ASCII without spaces so ids are safe to log
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
