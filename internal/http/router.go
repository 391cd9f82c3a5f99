package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/afyalink/server/internal/http/handlers"
)

// NewRouter creates a new HTTP router with all routes configured. Every
// action endpoint is POST-only JSON; OPTIONS preflight is answered by the
// CORS middleware with 204.
func NewRouter(authHandler *handlers.AuthHandler, requestHandler *handlers.RequestHandler, chatHandler *handlers.ChatHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "OPTIONS", "GET"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/start_otp", authHandler.HandleStartOTP)
		r.Post("/verify_otp", authHandler.HandleVerifyOTP)
		r.Post("/set_access_code", authHandler.HandleSetAccessCode)
		r.Post("/set_access_code_no_otp", authHandler.HandleSetAccessCodeNoOTP)
		r.Post("/register_options", authHandler.HandleRegisterOptions)
		r.Post("/register_verify", authHandler.HandleRegisterVerify)
		r.Post("/login_options", authHandler.HandleLoginOptions)
		r.Post("/login_verify", authHandler.HandleLoginVerify)
	})

	r.Route("/requests", func(r chi.Router) {
		r.Post("/create_with_pin", requestHandler.HandleCreateWithPin)
		r.Post("/create_with_session", requestHandler.HandleCreateWithSession)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/history", chatHandler.HandleHistory)
		r.Post("/send", chatHandler.HandleSend)
	})

	return r
}
