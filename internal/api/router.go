package api

import (
	"net/http"
	"time"

	"driftchat-backend/internal/config"
	"driftchat-backend/internal/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	AuthHandler         *handlers.AuthHandler
	ConversationHandler *handlers.ConversationHandlers
	CompletionHandler   *handlers.CompletionHandlers
	ModelHandler        *handlers.ModelHandlers
	Config              *config.Config
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- CORS Configuration ---
	// Adjust AllowedOrigins for your frontend deployment(s)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*.vercel.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes (No JWT Required) ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/signup", deps.AuthHandler.HandleSignup)
		r.Post("/login", deps.AuthHandler.HandleLogin)
	})

	// --- Authenticated Routes (JWT Required) ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JwtAuthMiddleware(deps.Config.JWTSecret))

		r.Route("/models", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/", deps.ModelHandler.HandleListModels)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/", deps.ConversationHandler.HandleCreateConversation)
			r.Get("/", deps.ConversationHandler.HandleListConversations)
			r.Get("/{conversationID}", deps.ConversationHandler.HandleGetConversation)
			r.Patch("/{conversationID}", deps.ConversationHandler.HandleUpdateConversation)
			r.Delete("/{conversationID}", deps.ConversationHandler.HandleDeleteConversation)
			r.Post("/{conversationID}/branch", deps.ConversationHandler.HandleBranchConversation)
			r.Get("/{conversationID}/messages", deps.ConversationHandler.HandleGetMessages)
		})

		// No request timeout here: stream lifetime is bounded only by the
		// upstream provider or the client disconnecting.
		r.Post("/completions", deps.CompletionHandler.HandleCreateCompletion)
	})

	return r
}
