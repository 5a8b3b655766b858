package logger

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status   int
	size     int
	upgraded bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("logger: response writer cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols
	w.upgraded = true
	return hj.Hijack()
}

// Probe paths are logged at debug so scrapers do not flood the log.
var probePaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// RequestLogger returns a chi-compatible middleware that logs each request
// with method, path, status, duration_ms, and response size. Upgraded
// signaling sockets are logged once they close, with the connection lifetime
// as duration.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrap.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}

			level, msg := slog.LevelInfo, "request"
			switch {
			case wrap.upgraded:
				msg = "websocket closed"
				attrs = append(attrs, slog.String("remote", r.RemoteAddr))
			case probePaths[r.URL.Path] && wrap.status < 400:
				level = slog.LevelDebug
				attrs = append(attrs, slog.Int("size", wrap.size))
			default:
				attrs = append(attrs, slog.Int("size", wrap.size))
			}
			log.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}
