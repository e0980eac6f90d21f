package middleware

import (
	"net/http"

	"github.com/kbukum/localchat/util"
)

const defaultMaxBodySize = 1 << 20

// BodySizeLimit restricts the request body to maxSize (e.g. "1MB", "512KB").
// Reads past the limit fail with *http.MaxBytesError.
func BodySizeLimit(maxSize string) Middleware {
	size := util.ParseSize(maxSize, defaultMaxBodySize)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, size)
			}
			next.ServeHTTP(w, r)
		})
	}
}
