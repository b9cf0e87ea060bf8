package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"dreamweaver/internal/app"
	"dreamweaver/internal/config"
	delivery "dreamweaver/internal/delivery/http"
	ws "dreamweaver/internal/delivery/websocket"
	"dreamweaver/internal/models"
	"dreamweaver/pkg/logger"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	log.Info("Configuration loaded",
		zap.String("env", cfg.AppEnv),
		zap.String("history_backend", cfg.History.Backend),
		zap.String("ai_client", cfg.AI.ClientType),
		zap.String("image_provider", cfg.Image.Provider),
	)

	// --- Session ---
	// Hub отдает снимок сессии новым клиентам, сама сессия появляется ниже
	var application *app.App
	hub := ws.NewHub(func() models.SessionSnapshot {
		return application.Session.Snapshot()
	}, cfg.GetAllowedOrigins(), log)

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	application, err = app.New(startCtx, cfg, log, hub)
	startCancel()
	if err != nil {
		log.Fatal("Failed to initialize session", zap.Error(err))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	unsubscribe := application.Session.Subscribe(hub.BroadcastSnapshot)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(delivery.ZapLogger(log))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if origins := cfg.GetAllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		log.Info("CORS_ALLOWED_ORIGINS not set, allowing default", zap.String("origin", "http://localhost:3000"))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	// Картинки SANA лежат локально и раздаются этим же сервером
	if strings.EqualFold(cfg.Image.Provider, config.ImageProviderSana) && strings.HasPrefix(cfg.Image.PublicBaseURL, "/") {
		router.Static(cfg.Image.PublicBaseURL, cfg.Image.SavePath)
	}

	delivery.NewHandler(application.Session, log).RegisterRoutes(router)
	router.GET("/ws", hub.ServeWS)

	p.Use(router)

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	unsubscribe()
	stopHub()
	if err := application.Close(); err != nil {
		log.Error("Failed to release resources", zap.Error(err))
	}

	log.Info("Server exiting")
}
