package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// Operator console origins. Webhook ingress is server-to-server and never
// preflighted, so this only affects the ops surface.
var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"https://ops.nexuspay.dev",
}

// CORS returns middleware that applies the API's allowed origin policy.
func CORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   defaultCORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
