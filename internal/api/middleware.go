package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"prp-generator/internal/auth"
)

// RunIDHeader carries the generation run ID on streamed responses.
const RunIDHeader = "X-Run-ID"

// AuthMiddleware validates the Bearer token from the Authorization header.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok || !auth.ValidateToken(provided, token) {
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs one line per request. Generation streams are logged
// with their run ID and the number of bytes streamed to the client.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		reqID := middleware.GetReqID(r.Context())
		if runID := ww.Header().Get(RunIDHeader); runID != "" {
			log.Printf("%s %s %d run=%s streamed=%dB %v req=%s",
				r.Method, r.URL.Path, status, runID, ww.BytesWritten(), time.Since(start), reqID)
			return
		}
		log.Printf("%s %s %d %dB %v req=%s",
			r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start), reqID)
	})
}
