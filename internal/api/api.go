package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/susu3304/warikanbot/internal/config"
	"github.com/susu3304/warikanbot/internal/ledger"
)

// GuildLister returns the guilds visible to a Discord OAuth access token.
type GuildLister interface {
	UserGuilds(ctx context.Context, accessToken string) ([]DiscordGuild, error)
}

type API struct {
	router      *mux.Router
	ledger      *ledger.Service
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	discord     GuildLister
	log         *zap.Logger
	server      *http.Server
}

func New(cfg *config.Config, svc *ledger.Service, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	api := &API{
		router:    mux.NewRouter(),
		ledger:    svc,
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
		discord:   newDiscordClient(),
		log:       log,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/user/guilds", a.handleUserGuilds).Methods("GET")
	protected.HandleFunc("/guilds/{guild_id}/balances", a.handleBalances).Methods("GET")
	protected.HandleFunc("/guilds/{guild_id}/settlement", a.handleSettlement).Methods("GET")
	protected.HandleFunc("/guilds/{guild_id}/expenses", a.handleListExpenses).Methods("GET")
	protected.HandleFunc("/guilds/{guild_id}/expenses/{id}", a.handleDeleteExpense).Methods("DELETE")
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must be false
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Info("API server listening", zap.String("addr", "http://"+a.config.WebBind))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
