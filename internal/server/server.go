// Package server assembles repositories, services and transports into a
// running StudyHub API process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/studyhub-api/internal/handler"
	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	"github.com/noah-isme/studyhub-api/internal/repository"
	"github.com/noah-isme/studyhub-api/internal/service"
	"github.com/noah-isme/studyhub-api/pkg/cache"
	"github.com/noah-isme/studyhub-api/pkg/config"
	"github.com/noah-isme/studyhub-api/pkg/database"
	"github.com/noah-isme/studyhub-api/pkg/export"
	"github.com/noah-isme/studyhub-api/pkg/idgen"
	"github.com/noah-isme/studyhub-api/pkg/jobs"
	"github.com/noah-isme/studyhub-api/pkg/recommender"
	"github.com/noah-isme/studyhub-api/pkg/scheduler"
	"github.com/noah-isme/studyhub-api/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-running component of the API process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *sqlx.DB
	redis    *redis.Client
	engine   *gin.Engine
	hub      *realtime.Hub
	redisBus *realtime.RedisBus
	queue    *jobs.Queue
	cron     *scheduler.Scheduler
	exports  *service.ExportService
}

// New connects to the backing stores and wires the object graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		if cfg.Realtime.UseRedis {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	app := &App{cfg: cfg, logger: logger, db: db, redis: redisClient}
	if err := app.wire(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

// jsonFieldName reports validation failures under the payload's JSON keys.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

func (a *App) wire() error {
	cfg, logger := a.cfg, a.logger
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)

	ids, err := idgen.NewSnowflake(cfg.Snowflake.Node)
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(a.db)
	catalog := repository.NewCatalogRepository(a.db)
	conversations := repository.NewConversationRepository(a.db)
	members := repository.NewMemberRepository(a.db)
	joinRequests := repository.NewJoinRequestRepository(a.db)
	invitations := repository.NewInvitationRepository(a.db)
	messages := repository.NewMessageRepository(a.db)
	notifications := repository.NewNotificationRepository(a.db)
	reports := repository.NewReportRepository(a.db)
	exportJobs := repository.NewExportRepository(a.db)

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if a.redis != nil {
		cacheRepo = repository.NewCacheRepository(a.redis, logger)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logger, cacheRepo != nil)

	a.hub = realtime.NewHub(realtime.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, nil, metrics, logger.Named("realtime"))

	var bus service.EventPublisher
	if cfg.Realtime.UseRedis && a.redis != nil {
		a.redisBus = realtime.NewRedisBus(a.redis, cfg.Realtime.RedisChannel, a.hub, logger.Named("realtime"))
		a.hub.SetPublisher(a.redisBus)
		bus = a.redisBus
	} else {
		local := realtime.NewLocalBus(a.hub)
		a.hub.SetPublisher(local)
		bus = local
	}

	authSvc := service.NewAuthService(users, validate, logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "studyhub-api",
		MaxFailedLogins:   cfg.Auth.MaxFailedLogins,
		LockoutDuration:   cfg.Auth.LockoutDuration,
	})
	userSvc := service.NewUserService(users, validate, logger)
	catalogSvc := service.NewCatalogService(catalog, cacheSvc, cfg.Catalog.CacheTTL, validate, logger)
	notificationSvc := service.NewNotificationService(notifications, bus, logger)

	conversationSvc := service.NewConversationService(service.ConversationDeps{
		Conversations: conversations,
		Members:       members,
		JoinRequests:  joinRequests,
		Invitations:   invitations,
		Messages:      messages,
		Subjects:      catalog,
		Audit:         users,
		Cache:         cacheSvc,
		Bus:           bus,
		IDs:           ids,
	}, validate, logger)
	a.hub.SetAuthorizer(conversationSvc)

	memberSvc := service.NewMemberService(service.MemberDeps{
		Conversations: conversations,
		Members:       members,
		JoinRequests:  joinRequests,
		Messages:      messages,
		Users:         users,
		Notifier:      notificationSvc,
		Bus:           bus,
		IDs:           ids,
	}, validate, logger)
	joinRequestSvc := service.NewJoinRequestService(service.JoinRequestDeps{
		Conversations: conversations,
		Members:       members,
		JoinRequests:  joinRequests,
		Users:         users,
		Notifier:      notificationSvc,
		Bus:           bus,
		IDs:           ids,
	}, validate, logger)
	invitationSvc := service.NewInvitationService(service.InvitationDeps{
		Conversations: conversations,
		Members:       members,
		Invitations:   invitations,
		Users:         users,
		Notifier:      notificationSvc,
		Bus:           bus,
		IDs:           ids,
	}, cfg.Invitations.TTL, validate, logger)
	messageSvc := service.NewMessageService(service.MessageDeps{
		Conversations: conversations,
		Members:       members,
		Messages:      messages,
		Trust:         users,
		Notifier:      notificationSvc,
		Metrics:       metrics,
		Bus:           bus,
		IDs:           ids,
	}, service.MessageConfig{
		MaxLength:       cfg.Messages.MaxLength,
		DefaultPageSize: cfg.Messages.DefaultPageSize,
		MaxPageSize:     cfg.Messages.MaxPageSize,
	}, validate, logger)
	moderationSvc := service.NewModerationService(reports, users, notificationSvc, bus, validate, logger)

	recommendationSvc := service.NewRecommendationService(service.RecommendationDeps{
		Source: recommender.New(recommender.Config{
			Enabled: cfg.Recommendation.Enabled,
			BaseURL: cfg.Recommendation.BaseURL,
			APIKey:  cfg.Recommendation.APIKey,
			Timeout: cfg.Recommendation.Timeout,
		}, nil),
		Conversations: conversations,
		Members:       members,
		Invitations:   invitations,
		Users:         users,
		Cache:         cacheSvc,
	}, cfg.Recommendation.CacheTTL, cfg.Recommendation.Limit, logger)

	exportSvc, err := a.wireExports(conversations, members, messages, exportJobs, metrics, validate)
	if err != nil {
		return err
	}

	a.engine = NewRouter(cfg, Handlers{
		Auth:         handler.NewAuthHandler(authSvc),
		User:         handler.NewUserHandler(userSvc),
		Catalog:      handler.NewCatalogHandler(catalogSvc),
		Conversation: handler.NewConversationHandler(conversationSvc, recommendationSvc),
		Member:       handler.NewMemberHandler(memberSvc),
		JoinRequest:  handler.NewJoinRequestHandler(joinRequestSvc),
		Invitation:   handler.NewInvitationHandler(invitationSvc, recommendationSvc),
		Message:      handler.NewMessageHandler(messageSvc),
		Notification: handler.NewNotificationHandler(notificationSvc),
		Report:       handler.NewReportHandler(moderationSvc),
		Export:       handler.NewExportHandler(exportSvc),
		Metrics:      handler.NewMetricsHandler(metrics, a.readinessChecks()),
		Realtime:     handler.NewRealtimeHandler(a.hub, logger.Named("realtime")),
	}, RouterDeps{
		Tokens:   authSvc,
		Observer: metrics,
		Audit:    users,
		Logger:   logger,
	})
	return nil
}

func (a *App) wireExports(
	conversations *repository.ConversationRepository,
	members *repository.MemberRepository,
	messages *repository.MessageRepository,
	exportJobs *repository.ExportRepository,
	metrics *service.MetricsService,
	validate *validator.Validate,
) (*service.ExportService, error) {
	cfg := a.cfg.Exports

	var store storage.ObjectStore
	switch cfg.Driver {
	case "s3":
		s3Store, err := storage.NewS3Storage(storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init export storage: %w", err)
		}
		store = s3Store
	default:
		local, err := storage.NewLocalStorage(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init export storage: %w", err)
		}
		store = local
	}

	deps := service.ExportDeps{
		Conversations: conversations,
		Members:       members,
		Exports:       exportJobs,
		Storage:       store,
		Signer:        storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL),
		Metrics:       metrics,
	}

	if cfg.Enabled {
		worker := service.NewExportWorker(service.ExportWorkerDeps{
			Conversations: conversations,
			Messages:      messages,
			Exports:       exportJobs,
			Storage:       store,
			Renderers: map[models.ExportFormat]export.Renderer{
				models.ExportFormatCSV: export.NewCSVExporter(),
				models.ExportFormatPDF: export.NewPDFExporter(),
			},
			Metrics: metrics,
		}, cfg.WorkerRetries, a.logger.Named("exports"))

		a.queue = jobs.NewQueue(service.ExportJobType, worker.Handle, jobs.QueueConfig{
			Workers:    cfg.WorkerConcurrency,
			MaxRetries: cfg.WorkerRetries,
			RetryDelay: 2 * time.Second,
			OnFailure:  worker.Fail,
			Logger:     a.logger.Named("exports"),
		})
		deps.Queue = a.queue
	}

	a.exports = service.NewExportService(deps, service.ExportConfig{APIPrefix: a.cfg.APIPrefix}, validate, a.logger)

	if cfg.CleanupSchedule != "" {
		a.cron = scheduler.New(a.logger.Named("scheduler"), 5*time.Minute)
		if err := a.cron.Register("export-cleanup", cfg.CleanupSchedule, a.exports.Cleanup); err != nil {
			return nil, err
		}
	}
	return a.exports, nil
}

func (a *App) readinessChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": a.db}
	if a.redis != nil {
		checks["redis"] = cache.Pinger{Client: a.redis}
	}
	return checks
}

// Handler exposes the HTTP engine, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.engine
}

// Run serves HTTP and every background component until ctx is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	eg, groupCtx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		return a.hub.Run(groupCtx)
	})

	if a.redisBus != nil {
		eg.Go(func() error {
			return a.redisBus.Run(groupCtx)
		})
	}

	if a.queue != nil {
		a.queue.Start(groupCtx)
		a.exports.RecoverPendingJobs(groupCtx)
		eg.Go(func() error {
			<-groupCtx.Done()
			a.queue.Stop()
			return nil
		})
	}

	if a.cron != nil {
		a.cron.Start()
		eg.Go(func() error {
			<-groupCtx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.cron.Stop(stopCtx)
			return nil
		})
	}

	err := eg.Wait()
	a.logger.Info("server stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
