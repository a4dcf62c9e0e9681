package handlers

import (
	"net/http"

	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/transport/http/middleware"
)

// Router holds everything the gateway's HTTP surface is assembled from.
// SendLimiter and WS are optional.
type Router struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Messages *MessageHandler

	JWTSecret   string
	SendLimiter *middleware.RateLimiter
	WS          http.Handler
	Logger      logging.Logger
}

// Handler builds the route table wrapped in request logging and CORS.
func (rt *Router) Handler() http.Handler {
	auth := middleware.Auth(rt.JWTSecret)

	send := http.Handler(http.HandlerFunc(rt.Messages.Send))
	if rt.SendLimiter != nil {
		send = rt.SendLimiter.Middleware(send)
	}

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/token", rt.Auth.Token)

	// Protected - Users
	mux.Handle("GET /api/v1/users/{id}", auth(http.HandlerFunc(rt.Users.Get)))
	mux.Handle("POST /api/v1/users", auth(http.HandlerFunc(rt.Users.Create)))
	mux.Handle("PATCH /api/v1/users/{id}", auth(http.HandlerFunc(rt.Users.Update)))

	// Protected - Messages
	mux.Handle("GET /api/v1/messages", auth(http.HandlerFunc(rt.Messages.List)))
	mux.Handle("GET /api/v1/messages/{id}", auth(http.HandlerFunc(rt.Messages.Get)))
	mux.Handle("POST /api/v1/messages", auth(send))

	// WebSocket authenticates through its query string.
	if rt.WS != nil {
		mux.Handle("GET /ws", rt.WS)
	}

	var h http.Handler = mux
	if rt.Logger != nil {
		h = middleware.RequestLog(rt.Logger)(h)
	}
	return middleware.CORS(h)
}
