package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig allows any origin to read the API.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "Last-Event-ID"},
		MaxAge:       86400,
	}
}

// headers returns the response headers for config, computed once.
func (c CORSConfig) headers() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  c.AllowOrigin,
		"Access-Control-Allow-Methods": strings.Join(c.AllowMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(c.AllowHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(c.MaxAge),
	}
}

// NewCORSMiddleware adds CORS headers to every API response.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	headers := config.headers()
	return func(ctx huma.Context, next func(huma.Context)) {
		for k, v := range headers {
			ctx.SetHeader(k, v)
		}
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests on mux. Huma middleware only
// runs for registered operations, so OPTIONS never reaches it.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	headers := config.headers()
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
