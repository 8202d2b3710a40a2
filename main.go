package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/crebit/backend/src/config"
	"github.com/crebit/backend/src/database"
	"github.com/crebit/backend/src/handlers"
	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/security"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Crebit backend server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		stdlog.Fatal("JWT_SECRET configuration invalid: must be at least 32 characters.")
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	providerClient := provider.NewClient(config.Cfg.ProviderBaseURL, config.Cfg.ProviderToken, config.Cfg.ProviderTimeout)

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	statusTracker := services.NewStatusTracker(config.Cfg.SessionTTL)
	quoteService := services.NewQuoteService(providerClient)
	customerService := services.NewCustomerService(providerClient)
	paymentService := services.NewPaymentService(providerClient, statusTracker, config.Cfg.CheckDeliveryExternalAccountID)
	transactionService := services.NewTransactionService(database.DB)

	sessionStore := session.NewStore(config.Cfg.SessionTTL)
	runtimeCfg := session.RuntimeConfig{
		TickPeriod:   time.Second,
		PollInterval: config.Cfg.StatusPollInterval,
		PollCeiling:  config.Cfg.StatusPollCeiling,
	}

	baseCtx := context.Background()

	quoteHandler := handlers.NewQuoteHandler(quoteService)
	customerHandler := handlers.NewCustomerHandler(customerService)
	paymentHandler := handlers.NewPaymentHandler(paymentService, providerClient)
	webhookHandler := handlers.NewWebhookHandler(database.DB, statusTracker, paymentService)
	dashboardHandler := handlers.NewDashboardHandler(transactionService)
	wizardHandler := handlers.NewWizardHandler(baseCtx, sessionStore, quoteService,
		customerService, paymentService, statusTracker, runtimeCfg, config.Cfg.QuoteLockSeconds)

	authMiddleware := handlers.AuthMiddleware(authService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Crebit Backend is running"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Provider-facing webhook receiver; authenticated by obscurity of the
	// configured endpoint on the provider side, never by user tokens.
	r.Post("/webhook/payout-events", webhookHandler.HandlePayoutEvents)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Post("/create-quote", quoteHandler.HandleCreateQuote)
			r.Post("/create-quote-new", quoteHandler.HandleCreateLegQuote)
			r.Get("/webhook-status/{transactionId}", webhookHandler.HandleWebhookStatus)
			r.Post("/trigger-mock-webhook", webhookHandler.HandleTriggerMockWebhook)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)

			r.Post("/create-customer", customerHandler.HandleCreateCustomer)
			r.Post("/create-external-account", customerHandler.HandleCreateExternalAccount)
			r.Post("/create-spei-payment", paymentHandler.HandleCreateSpeiPayment)
			r.Post("/create-pix-payment", paymentHandler.HandleCreatePixPayment)
			r.Get("/transaction-status/{transactionId}", paymentHandler.HandleGetTransactionStatus)
			r.Get("/user-transactions/{userId}", dashboardHandler.HandleGetUserTransactions)

			r.Post("/session", wizardHandler.HandleCreateSession)
			r.Route("/session/{sessionId}", func(r chi.Router) {
				r.Get("/", wizardHandler.HandleGetState)
				r.Post("/personal-info", wizardHandler.HandlePersonalInfo)
				r.Post("/delivery-method", wizardHandler.HandleDeliveryMethod)
				r.Post("/school-info", wizardHandler.HandleSchoolInfo)
				r.Post("/quote", wizardHandler.HandleQuote)
				r.Post("/authorize", wizardHandler.HandleAuthorize)
				r.Post("/back", wizardHandler.HandleBack)
				r.Post("/expiry-ack", wizardHandler.HandleExpiryAck)
				r.Post("/referral", wizardHandler.HandleAdvanceToReferral)
				r.Post("/referrals", wizardHandler.HandleSubmitReferrals)
			})
		})
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
