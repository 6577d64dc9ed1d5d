package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/unigigs-api/internal/config"
	"github.com/noah-isme/unigigs-api/internal/database"
	"github.com/noah-isme/unigigs-api/internal/handler"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/observability"
	"github.com/noah-isme/unigigs-api/internal/realtime"
	"github.com/noah-isme/unigigs-api/internal/repository"
	"github.com/noah-isme/unigigs-api/internal/router"
	"github.com/noah-isme/unigigs-api/internal/security"
	"github.com/noah-isme/unigigs-api/internal/service"
	cloud "github.com/noah-isme/unigigs-api/pkg/cloudinary"
	"github.com/noah-isme/unigigs-api/pkg/mailer"
	"github.com/noah-isme/unigigs-api/pkg/webpush"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the HTTP API and the outbox worker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	nodeID := realtime.NewNodeID()
	buses := []realtime.Bus{realtime.NewRedisBus(redisClient, cfg.RealtimeChannel, nodeID, logger)}
	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsConn.Close()
		buses = append(buses, realtime.NewNATSBus(natsConn, cfg.RealtimeChannel, nodeID, logger))
	}
	bus := realtime.CombineBuses(buses...)

	validate := validator.New(validator.WithRequiredStructEnabled())

	users := repository.NewUserRepository(db)
	accounts := repository.NewAuthAccountRepository(db)
	gigRepo := repository.NewGigRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	communityRepo := repository.NewCommunityRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	subscriptionRepo := repository.NewPushSubscriptionRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	auth := service.NewAuthService(service.AuthDependencies{
		Accounts:    accounts,
		Users:       users,
		Tokens:      security.NewTokenManager(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.AppName),
		Hasher:      security.NewBcryptHasher(0),
		Revocations: security.NewRedisRevocationStore(redisClient, cfg.RealtimeChannel),
		States:      security.NewRedisStateStore(redisClient, cfg.RealtimeChannel),
		Providers: security.NewSocialProviders(security.SocialConfig{
			BaseURL:   cfg.PublicBaseURL,
			Google:    security.SocialCredentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
			GitHub:    security.SocialCredentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret},
			Microsoft: security.SocialCredentials{ClientID: cfg.MicrosoftClientID, ClientSecret: cfg.MicrosoftClientSecret},
		}),
	}, validate, logger)

	notifications := service.NewNotificationService(notificationRepo, outboxRepo, bus, cfg.NotificationWindow, validate, logger)
	gigs := service.NewGigService(gigRepo, applicationRepo, notifications, validate, logger)
	applications := service.NewApplicationService(applicationRepo, gigRepo, notifications, validate, logger)
	communities := service.NewCommunityService(communityRepo, cfg.SeedCommunities, validate, logger)
	chat := service.NewChatService(messageRepo, communities, bus, cfg.MessageWindow, validate, logger)
	push := service.NewPushService(subscriptionRepo, cfg.VAPIDPublicKey, validate, logger)

	profileDeps := service.ProfileDependencies{
		Users:         users,
		Accounts:      accounts,
		Gigs:          gigs,
		Applications:  applications,
		MaxPhotoBytes: int64(cfg.UploadMaxSizeMB) << 20,
	}
	if blobs, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger); err != nil {
		logger.Warn().Err(err).Msg("profile photo uploads disabled")
	} else {
		profileDeps.Blobs = blobs
	}
	profiles := service.NewProfileService(profileDeps, validate, logger)

	outboxDeps := service.OutboxDependencies{
		Outbox:        outboxRepo,
		Notifications: notificationRepo,
		Users:         users,
		Subscriptions: subscriptionRepo,
		Feed:          notifications.Feed(),
	}
	if sender, err := webpush.New(webpush.Config{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subscriber: cfg.VAPIDSubscriber,
	}, logger); err != nil {
		logger.Warn().Err(err).Msg("web push disabled")
	} else {
		outboxDeps.Push = sender
	}
	if cfg.SMTPEnabled() {
		mail, err := mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
		if err != nil {
			return fmt.Errorf("configure mailer: %w", err)
		}
		outboxDeps.Email = mail
	}
	worker := service.NewOutboxWorker(outboxDeps, service.OutboxConfig{
		PollInterval: cfg.OutboxPollInterval,
		BaseBackoff:  cfg.OutboxBaseBackoff,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		BatchSize:    cfg.OutboxBatchSize,
		LinkBaseURL:  cfg.PublicBaseURL,
	}, logger)

	notifications.Feed().Start(ctx)
	chat.Feed().Start(ctx)
	defer notifications.Feed().Close()
	defer chat.Feed().Close()
	worker.Start(ctx)

	observability.RegisterMetrics()

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) << 20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(auth, validate, logger),
		ProfileHandler:      handler.NewProfileHandler(profiles, gigs, push, logger),
		GigHandler:          handler.NewGigHandler(gigs, applications, logger),
		CommunityHandler:    handler.NewCommunityHandler(communities, chat, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, cfg.StreamKeepAlive),
		PushService:         push,
		Authenticator:       auth,
		SessionResolver:     auth,
		CredentialLimiter:   middleware.RateLimit("auth", cfg.RateLimitMax, cfg.RateLimitWindow),
		ApplyLimiter:        middleware.RateLimit("apply", cfg.RateLimitMax, cfg.RateLimitWindow),
		HealthChecks: map[string]handler.DependencyCheck{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		OutboxBacklog: outboxRepo.CountByStatus,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("env", cfg.AppEnv).Msg("starting server")
		errCh <- app.Listen(cfg.HTTPAddress())
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	return shutdown(app, logger)
}

func shutdown(app *fiber.App, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
