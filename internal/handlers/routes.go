package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-delivery/internal/auth"
	"github.com/ukydev/fleet-delivery/internal/middleware"
)

// DispatchRateLimit bounds dispatch requests per client per minute.
const DispatchRateLimit = 20

// NewRouter wires the API routes behind authentication and request logging.
func NewRouter(authHandler *AuthHandler, fleet *FleetHandler, authMW *middleware.AuthMiddleware, limiter *middleware.RateLimitMiddleware) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc(auth.GrantPath, authHandler.Grant)
	mux.HandleFunc("GET /api/auth/whoami", authHandler.WhoAmI)

	mux.HandleFunc("GET /api/vehicles", fleet.Vehicles)
	mux.HandleFunc("GET /api/vehicles/{id}", fleet.Vehicle)
	mux.HandleFunc("POST /api/vehicles/{id}/{action}", fleet.Command)
	mux.Handle("POST /api/dispatch", limiter.RateLimit(DispatchRateLimit, 60)(http.HandlerFunc(fleet.Dispatch)))
	mux.HandleFunc("GET /api/stream", fleet.Stream)

	return middleware.Logging(authMW.Authenticate(mux))
}
