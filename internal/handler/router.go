package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	Messaging     *service.MessagingService
	Favorites     *service.FavoritesService
	Collaboration *service.CollaborationService
	Realtime      *realtime.Manager
	Verifier      *session.TokenVerifier
	Health        *HealthHandler

	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
	StreamHeartbeat   time.Duration

	Logger *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = logger.NewNop()
	}
	health := d.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}

	conversations := NewConversationHandler(d.Messaging, log)
	messages := NewMessageHandler(d.Messaging, log)
	stream := NewStreamHandler(d.Messaging, d.Realtime, d.StreamHeartbeat, log)
	favorites := NewFavoritesHandler(d.Favorites, log)
	collab := NewCollaborationHandler(d.Collaboration, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(d.Verifier))
		r.Use(middleware.UserRateLimit(d.RateLimitRequests, d.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversations.List)
			r.Post("/", conversations.Create)
			r.Post("/direct", conversations.Direct)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversations.Get)
				r.Post("/read", conversations.MarkRead)
				r.Put("/mute", conversations.Mute)
				r.Delete("/membership", conversations.Leave)
				r.Post("/participants", conversations.AddParticipants)

				r.Get("/messages", messages.List)
				r.Post("/messages", messages.Send)

				r.Get("/stream", stream.Stream)
			})
		})

		r.Put("/messages/{messageID}", messages.Edit)
		r.Delete("/messages/{messageID}", messages.Delete)
		r.Get("/unread", conversations.Unread)

		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", favorites.List)
			r.Post("/", favorites.Add)
			r.Get("/counts", favorites.Counts)
			r.Get("/popular", favorites.Popular)
			r.Put("/{id}", favorites.Update)
			r.Get("/{type}/{favoriteID}", favorites.Check)
			r.Delete("/{type}/{favoriteID}", favorites.Remove)
		})

		r.Route("/collaborations", func(r chi.Router) {
			r.Get("/", collab.List)
			r.Post("/", collab.Create)
			r.Get("/recommended", collab.Recommended)
			r.Put("/{id}/status", collab.UpdateStatus)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", collab.ListEvents)
			r.Post("/", collab.CreateEvent)
			r.Get("/{id}/participants", collab.EventParticipants)
			r.Post("/{id}/participants", collab.JoinEvent)
			r.Delete("/{id}/participants", collab.LeaveEvent)
		})

		r.Route("/partnerships", func(r chi.Router) {
			r.Get("/", collab.ListPartnershipRequests)
			r.Post("/", collab.SendPartnershipRequest)
			r.Put("/{id}", collab.RespondToPartnershipRequest)
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", collab.ListConnections)
			r.Post("/", collab.SendConnectionRequest)
			r.Put("/{id}", collab.RespondToConnectionRequest)
			r.Delete("/{id}", collab.RemoveConnection)
		})
	})

	return r
}
