package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-sender-api/internal/application/sender"
	"github.com/go-sender-api/internal/application/verification"
	"github.com/go-sender-api/internal/config"
	jwtinfra "github.com/go-sender-api/internal/infrastructure/jwt"
	"github.com/go-sender-api/internal/transport/http/handler"
	appmiddleware "github.com/go-sender-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router. JWTProvider is
// required: every sender and domain route takes the tenant from its claims.
type Deps struct {
	SenderRepo  SenderRepository
	DomainRepo  DomainRepository
	Verifier    Verifier
	Events      EventPublisher
	JWTProvider *jwtinfra.Provider

	VerificationTimeout time.Duration
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — applied to endpoints that reach the
	// verification provider.
	providerRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	senderSvc := sender.NewService(sender.ServiceDeps{
		SenderRepo: deps.SenderRepo,
		DomainRepo: deps.DomainRepo,
		Verifier:   deps.Verifier,
		Events:     deps.Events,
	})
	verSvc := verification.NewService(verification.ServiceDeps{
		SenderRepo:          deps.SenderRepo,
		DomainRepo:          deps.DomainRepo,
		Verifier:            deps.Verifier,
		Events:              deps.Events,
		VerificationTimeout: deps.VerificationTimeout,
	})

	healthH := handler.NewHealthHandler()
	senderH := handler.NewSenderHandler(senderSvc, verSvc)
	domainH := handler.NewDomainHandler(verSvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))

			r.Get("/senders", senderH.List)
			r.Get("/senders/limits", senderH.Limits)
			r.With(providerRL.Limit).Post("/senders", senderH.Create)
			r.Get("/senders/{id}", senderH.Get)
			r.Put("/senders/{id}", senderH.Update)
			r.Delete("/senders/{id}", senderH.Delete)
			r.With(providerRL.Limit).Post("/senders/{id}/verify", senderH.Reverify)
			r.With(providerRL.Limit).Post("/senders/{id}/poll", senderH.Poll)

			r.Get("/domains/{domain}", domainH.Get)
			r.Delete("/domains/{domain}", domainH.Delete)
		})
	})

	return r
}
