package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures the CORS middleware.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// CORS answers preflight requests and decorates responses for allowed origins.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	if len(opt.AllowedMethods) == 0 {
		opt.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(opt.AllowedHeaders) == 0 {
		opt.AllowedHeaders = []string{"Content-Type", "Authorization", "Accept", "X-Request-ID"}
	}
	if opt.MaxAgeSeconds == 0 {
		opt.MaxAgeSeconds = 600
	}

	allowedMethods := strings.Join(opt.AllowedMethods, ", ")
	allowedHeaders := strings.Join(opt.AllowedHeaders, ", ")
	exposedHeaders := strings.Join(opt.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(opt.MaxAgeSeconds)
	allowedOrigins := splitList(strings.Join(opt.AllowedOrigins, ","))

	isAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if isAllowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Max-Age", maxAge)
				if exposedHeaders != "" {
					h.Set("Access-Control-Expose-Headers", exposedHeaders)
				}
				if opt.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
