package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/msaadg/custom-gpt/internal/config"
	"github.com/msaadg/custom-gpt/internal/handler"
	"github.com/msaadg/custom-gpt/internal/service"
	"github.com/msaadg/custom-gpt/internal/storage/postgres"
	redisstore "github.com/msaadg/custom-gpt/internal/storage/redis"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		slog.Info("no .env.local file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: one pool for the process, closed on shutdown.
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	states, err := redisstore.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer states.Close()

	// Services
	oauthService := service.NewOAuthService(service.NewGoogleOAuthConfig(cfg), states)
	tokenService := service.NewTokenService(cfg.SessionSecret)
	paymentService := service.NewPaymentService(cfg, service.NewStripeIssuer(cfg.StripeSecretKey), store, states, log)
	accessService := service.NewAccessService(store, paymentService)

	h := handler.NewHandler(cfg, oauthService, tokenService, store, accessService, paymentService, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("panic recovered", "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Boundary routes: identity-provider callback and payment webhook.
	r.GET("/oauth/callback", h.OAuthCallback)
	r.POST("/webhook", h.Webhook)

	// Everything else requires a valid session cookie.
	protected := r.Group("/")
	protected.Use(h.AuthMiddleware())
	protected.GET("/protected", h.Protected)
	protected.GET("/payments/:id", h.PaymentStatus)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AppPort),
		Handler: r,
	}

	go func() {
		log.Info("server listening", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
