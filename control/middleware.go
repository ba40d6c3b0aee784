package control

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"

	"github.com/jdginn/antidrift/logging"
)

func permissiveCorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// writeLog emits one structured access log line per request on the http logger.
func writeLog(_ io.Writer, params ghandlers.LogFormatterParams) {
	logging.Get(logging.HTTP).LogAttrs(params.Request.Context(), slog.LevelInfo, "HTTP request",
		slog.String("method", params.Request.Method),
		slog.String("uri", params.URL.RequestURI()),
		slog.String("remote", params.Request.RemoteAddr),
		slog.Int("status", params.StatusCode),
		slog.Int("size", params.Size),
		slog.Duration("elapsed", time.Since(params.TimeStamp)),
	)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(io.Discard, next, writeLog)
}
