package middleware

import "net/http"

// DefaultSecurityHeaders are set on every response.
var DefaultSecurityHeaders = map[string]string{
	"Content-Security-Policy": "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; font-src 'self' data:; connect-src 'self'; " +
		"frame-ancestors 'none'; base-uri 'self'; form-action 'self'",
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"X-XSS-Protection":       "1; mode=block",
	"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
}

// strippedHeaders never leave the server.
var strippedHeaders = []string{"X-Powered-By", "Server"}

// SecurityHeaders sets headers on every response, whatever the outcome, and
// removes headers that fingerprint the server.
func SecurityHeaders(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			next.ServeHTTP(&scrubWriter{ResponseWriter: w}, r)
		})
	}
}

type scrubWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *scrubWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		for _, h := range strippedHeaders {
			w.Header().Del(h)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *scrubWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *scrubWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
