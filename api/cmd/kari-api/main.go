package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kari/api/internal/api/handlers"
	"kari/api/internal/api/middleware"
	"kari/api/internal/api/router"
	"kari/api/internal/cluster/master"
	"kari/api/internal/cluster/slaveclient"
	"kari/api/internal/config"
	"kari/api/internal/core/services"
	"kari/api/internal/db"
	"kari/api/internal/db/postgres"
	deliveryhttp "kari/api/internal/delivery/http"
	authhandlers "kari/api/internal/handlers"
	"kari/api/internal/infrastructure/crypto"
	"kari/api/internal/localws"
	"kari/api/internal/telemetry"
	"kari/api/internal/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("booting kari", slog.String("mode", string(config.Load().Mode)))

	cfg := config.Load()
	ctx := context.Background()

	// --- Outbound infrastructure ---
	dbPool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: database pool failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	sqlxPool, err := postgres.NewSQLXPool(cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: sqlx connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlxPool.Close()

	cryptoService, err := crypto.NewAESCryptoService(cfg.EncryptionKeyHex)
	if err != nil {
		logger.Error("FATAL: cryptographic initialization failed", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Repositories ---
	appRepo := postgres.NewApplicationRepo(dbPool)
	userRepo := postgres.NewUserRepo(dbPool)
	auditRepo := postgres.NewAuditRepository(dbPool)
	domainRepo := postgres.NewDomainRepository(sqlxPool)
	profileRepo := db.NewPostgresProfileRepository(dbPool)

	telemetryHub := telemetry.NewHub()

	// --- Services ---
	tokenService := services.NewTokenService(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, tokenService)
	roleService := services.NewRoleService(userRepo)
	envVarService := services.NewEnvVarService(appRepo, cryptoService, logger)
	appService := services.NewApplicationService(appRepo, auditRepo, envVarService, telemetryHub, logger)
	domainService := services.NewDomainService(domainRepo, logger)
	streamService := services.NewDeploymentStreamService(telemetryHub)

	// --- Cluster tunnel fabric (C5/C6) ---
	var clusterManager *master.Manager
	switch cfg.Mode {
	case config.ModeMaster:
		clusterManager = master.New(cfg.ClusterSecret, cfg.AuthTimeout, cfg.RequestTimeout, logger)
		logger.Info("cluster mode: master", slog.Duration("auth_timeout", cfg.AuthTimeout))
	case config.ModeSlave:
		slaveCfg := slaveclient.Config{
			MasterURL:          cfg.MasterURL,
			SlaveID:            cfg.SlaveID,
			SlaveName:          cfg.SlaveName,
			Secret:             cfg.ClusterSecret,
			LocalPort:          cfg.Port,
			ReconnectBaseDelay: cfg.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
		}
		slaveClient := slaveclient.New(slaveCfg, logger)
		go slaveClient.Run(ctx)
		logger.Info("cluster mode: slave", slog.String("master_url", cfg.MasterURL), slog.String("slave_id", cfg.SlaveID))
	default:
		logger.Info("cluster mode: standalone")
	}

	// --- Handlers ---
	authHandler := authhandlers.NewAuthHandler(authService, tokenService, userRepo)
	profileHandler := authhandlers.NewProfileHandler(profileRepo)
	appHandler := handlers.NewAppHandler(appService)
	domainHandler := handlers.NewDomainHandler(domainService)
	auditHandler := handlers.NewAuditHandler(auditRepo)
	wsHandler := handlers.NewWebSocketHandler(streamService, logger)
	localHandler := localws.NewHandler(logger)
	realtimeHandler := handlers.NewRealtimeHandler(clusterManager, localHandler, logger)
	clusterStatusHandler := handlers.NewClusterStatusHandler(clusterManager, cfg.Mode)
	healthHandler := deliveryhttp.NewHealthHandler(dbPool)

	authMiddleware := middleware.NewAuthMiddleware(authService, roleService, logger)

	// --- Background workers ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	appMonitor := workers.NewAppMonitor(appRepo, auditRepo, logger, 1*time.Minute)
	go appMonitor.Start(workerCtx)

	// --- HTTP gateway ---
	mux := router.NewRouter(router.RouterConfig{
		AllowedOrigins:       cfg.AllowedOrigins,
		AuthHandler:          authHandler,
		ProfileHandler:       profileHandler,
		AppHandler:           appHandler,
		DomainHandler:        domainHandler,
		AuditHandler:         auditHandler,
		WSHandler:            wsHandler,
		HealthHandler:        healthHandler,
		RealtimeHandler:      realtimeHandler,
		ClusterStatusHandler: clusterStatusHandler,
		ClusterManager:       clusterManager,
		AuthMiddleware:       authMiddleware,
		Logger:               logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("kari api active", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server crashed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")
	cancelWorkers()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", slog.Any("error", err))
	}
	logger.Info("kari api shutdown complete")
}
