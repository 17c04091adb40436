package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medical-consilium/internal/agent"
	"medical-consilium/internal/config"
	"medical-consilium/internal/consultation"
	"medical-consilium/internal/mcptools"
	"medical-consilium/internal/platform/mongodb"
	"medical-consilium/internal/platform/postgres"
	"medical-consilium/internal/platform/telegram"
	"medical-consilium/internal/report"
	"medical-consilium/internal/roster"
)

func main() {
	logger := log.New(os.Stderr, "consilium ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal(err)
	}

	// 1. Storage
	repo := consultation.NewMemoryRepository()
	switch {
	case cfg.DatabaseURL != "":
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, 10, 2*time.Second, logger)
		if err != nil {
			logger.Fatalf("could not connect to database: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(cfg.MigrationsDir, cfg.DatabaseURL); err != nil {
			logger.Fatal(err)
		}
		logger.Println("connected to Postgres, migrations applied")
		repo = consultation.NewPostgresRepository(db)
	case cfg.MongoURI != "":
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatalf("could not connect to MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())
		logger.Println("connected to MongoDB")
		repo = consultation.NewMongoRepository(client.Database(cfg.MongoDatabase))
	default:
		logger.Println("no database configured, consultations are kept in memory")
	}

	// 2. Clients
	registry, err := roster.Load(cfg.AgentRoster)
	if err != nil {
		logger.Fatal(err)
	}

	inference := agent.NewSimulatedClient(1500 * time.Millisecond)
	if cfg.GeminiAPIKey != "" {
		inference, err = agent.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal(err)
		}
		logger.Printf("using Gemini model %s", cfg.GeminiModel)
	} else {
		logger.Println("GEMINI_API_KEY is not set, using simulated specialists")
	}

	var notifier report.Notifier
	if cfg.ReportsEnabled() {
		notifier = telegram.NewClient(cfg.TelegramToken)
	} else {
		logger.Println("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, reports are download-only")
	}
	reportSvc := report.NewService(notifier, cfg.DoctorChatID)

	// 3. Services
	dispatch := consultation.DefaultDispatchConfig()
	dispatch.CallTimeout = cfg.InferenceTimeout
	dispatch.MaxAttempts = cfg.InferenceAttempts
	dispatch.Stagger = cfg.DispatchStagger
	coord := consultation.NewCoordinator(inference, repo, dispatch, logger)

	var reporter consultation.ReportService
	if notifier != nil {
		reporter = reportSvc
	}
	consultationSvc := consultation.NewService(registry, coord, repo, reporter, logger,
		consultation.WithRetention(cfg.SessionRetention))
	consultationHandler := consultation.NewHandler(consultationSvc, reportSvc)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Mcp-Session-Id")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})
	r.Handle("/mcp", mcptools.NewHTTPHandler(consultationSvc))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}
