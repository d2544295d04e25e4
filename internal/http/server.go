package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"allowance/internal/auth"
	applog "allowance/internal/log"
	"allowance/internal/middleware/ratelimit"
	"allowance/internal/middleware/security"
	"allowance/internal/middleware/trace"
	"allowance/internal/services"
	"allowance/web"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Store      Pinger
	Auth       *auth.Service
	Ledger     *services.LedgerService
	Households *services.HouseholdService
	Views      *services.ViewService
	Logger     *applog.Logger

	// BaseURL prefixes view and join links. Secure cookies are used when
	// it starts with https.
	BaseURL string

	// WriteRateLimit caps state-changing requests per client per minute.
	WriteRateLimit int
}

// Server wraps http.Server with the app's handlers and middleware state.
type Server struct {
	*http.Server

	deps      Deps
	logger    *applog.Logger
	templates *template.Template
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	startedAt time.Time
	now       func() time.Time
}

// NewServer builds the router. Call Shutdown to stop it and release the limiter.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger.WithComponent(applog.ComponentHTTP)
	deps.BaseURL = strings.TrimRight(deps.BaseURL, "/")

	s := &Server{
		deps:      deps,
		logger:    logger,
		templates: template.Must(template.New("").Funcs(templateFuncs()).ParseFS(web.TemplatesFS, "templates/*.html")),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.WriteRateLimit}),
		detector:  security.NewDetector(deps.Logger),
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, deps.Logger)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.WritesOnly, func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusTooManyRequests, "too many requests")
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	static, _ := fs.Sub(web.StaticFS, "static")
	r.With(security.StaticAssetMiddleware(3600)).
		Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.With(security.NoStore).Get("/view/{token}", s.handleViewPage)

	r.Route("/api", func(r chi.Router) {
		r.Use(security.NoStore)

		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/signout", s.handleSignOut)
		r.Get("/view/{token}", s.handleViewJSON)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/auth/session", s.handleSession)

			r.Get("/household", s.handleGetHousehold)
			r.Post("/household", s.handleCreateHousehold)
			r.Post("/household/join", s.handleJoinHousehold)
			r.Get("/household/invite", s.handleInvite)

			r.Get("/overview", s.handleOverview)
			r.Get("/kids", s.handleListKids)
			r.Post("/kids", s.handleCreateKid)
			r.Route("/kids/{id}", func(r chi.Router) {
				r.Put("/allowance", s.handleConfigureAllowance)
				r.Post("/allowance", s.handlePayAllowance)
				r.Get("/view-link", s.handleViewLink)
				r.Get("/transactions", s.handleListTransactions)
				r.Post("/transactions", s.handleCreateTransaction)
			})
			r.Delete("/transactions/{id}", s.handleDeleteTransaction)
		})
	})

	return r
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// background helpers.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

// Stop releases background helpers without a running listener, for tests.
func (s *Server) Stop() {
	s.limiter.Stop()
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.deps.BaseURL, "https://")
}
