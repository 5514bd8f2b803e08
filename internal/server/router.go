package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/handler"
	"github.com/noah-isme/studyhub-api/internal/middleware"
	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/config"
	"github.com/noah-isme/studyhub-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studyhub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studyhub-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler mounted by the router.
type Handlers struct {
	Auth         *handler.AuthHandler
	User         *handler.UserHandler
	Catalog      *handler.CatalogHandler
	Conversation *handler.ConversationHandler
	Member       *handler.MemberHandler
	JoinRequest  *handler.JoinRequestHandler
	Invitation   *handler.InvitationHandler
	Message      *handler.MessageHandler
	Notification *handler.NotificationHandler
	Report       *handler.ReportHandler
	Export       *handler.ExportHandler
	Metrics      *handler.MetricsHandler
	Realtime     *handler.RealtimeHandler
}

// RouterDeps carries the middleware collaborators.
type RouterDeps struct {
	Tokens   middleware.TokenValidator
	Observer middleware.HTTPObserver
	Audit    middleware.AuditWriter
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg *config.Config, h Handlers, deps RouterDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(corsmiddleware.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))
	if deps.Observer != nil {
		r.Use(middleware.Metrics(deps.Observer, "/hubs/chat"))
	}

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.GET("/hubs/chat", middleware.WebsocketJWT(deps.Tokens), h.Realtime.Connect)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", h.Auth.Login)
	api.GET("/exports/download/:token", h.Export.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))
	registerAccountRoutes(secured, h)
	registerCatalogRoutes(secured, h)
	registerConversationRoutes(secured, h)
	registerMessageRoutes(secured, h)
	registerNotificationRoutes(secured, h)
	registerAdminRoutes(secured, h, deps)

	return r
}

func registerAccountRoutes(rg *gin.RouterGroup, h Handlers) {
	rg.GET("/auth/me", h.Auth.Me)

	users := rg.Group("/users")
	users.GET("/me", h.User.Me)
	users.GET("/:id", h.User.Get)
	users.GET("/:id/trust-history", middleware.Authorize(middleware.AllowRoles(models.RoleAdmin), middleware.AllowSelf("id")), h.User.TrustHistory)

	rg.POST("/reports", h.Report.Create)
}

func registerCatalogRoutes(rg *gin.RouterGroup, h Handlers) {
	rg.GET("/faculties", h.Catalog.Faculties)
	rg.GET("/majors", h.Catalog.Majors)
	rg.GET("/subjects", h.Catalog.Subjects)
	rg.GET("/tags", h.Catalog.Tags)
}

func registerConversationRoutes(rg *gin.RouterGroup, h Handlers) {
	conv := rg.Group("/conversation")
	conv.GET("", h.Conversation.List)
	conv.POST("", h.Conversation.Create)
	conv.GET("/suggestions", h.Conversation.Suggestions)

	joinRequests := conv.Group("/join-request")
	joinRequests.GET("", h.JoinRequest.List)
	joinRequests.GET("/mine", h.JoinRequest.Mine)
	joinRequests.POST("/:id/approve", h.JoinRequest.Approve)
	joinRequests.POST("/:id/reject", h.JoinRequest.Reject)
	joinRequests.DELETE("/:id", h.JoinRequest.Cancel)

	invitations := conv.Group("/invitations")
	invitations.GET("/mine", h.Invitation.Mine)
	invitations.POST("/:id/accept", h.Invitation.Accept)
	invitations.POST("/:id/decline", h.Invitation.Decline)
	invitations.DELETE("/:id", h.Invitation.Cancel)

	conv.GET("/:id", h.Conversation.Get)
	conv.PUT("/:id", h.Conversation.Update)
	conv.DELETE("/:id", h.Conversation.Dissolve)
	conv.GET("/:id/members", h.Member.List)
	conv.POST("/:id/join", h.Member.Join)
	conv.POST("/:id/leave", h.Member.Leave)
	conv.PUT("/:id/members/:userId/role", h.Member.ChangeRole)
	conv.DELETE("/:id/members/:userId", h.Member.Remove)
	conv.PUT("/:id/mute", h.Member.Mute)
	conv.POST("/:id/read", h.Member.MarkRead)
	conv.POST("/:id/invitations", h.Invitation.Create)
	conv.GET("/:id/invitations", h.Invitation.List)
	conv.GET("/:id/suggested-members", h.Invitation.SuggestedMembers)
}

func registerMessageRoutes(rg *gin.RouterGroup, h Handlers) {
	conv := rg.Group("/conversations/:conversationId")
	conv.POST("/exports", h.Export.Request)

	messages := conv.Group("/messages")
	messages.GET("", h.Message.List)
	messages.POST("", h.Message.Send)
	messages.GET("/pinned", h.Message.Pinned)
	messages.GET("/unread-count", h.Message.UnreadCount)
	messages.PUT("/:messageId", h.Message.Edit)
	messages.DELETE("/:messageId", h.Message.Delete)
	messages.POST("/:messageId/pin", h.Message.Pin)
	messages.DELETE("/:messageId/pin", h.Message.Unpin)
	messages.POST("/:messageId/review", h.Message.Review)

	rg.GET("/exports/:id", h.Export.Status)
}

func registerNotificationRoutes(rg *gin.RouterGroup, h Handlers) {
	notifications := rg.Group("/notifications")
	notifications.GET("", h.Notification.List)
	notifications.GET("/unread-count", h.Notification.UnreadCount)
	notifications.POST("/read-all", h.Notification.MarkAllRead)
	notifications.POST("/:id/read", h.Notification.MarkRead)
}

func registerAdminRoutes(rg *gin.RouterGroup, h Handlers, deps RouterDeps) {
	admin := rg.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))

	audit := func(resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, models.AuditActionCatalogCreate, resource)
	}
	admin.POST("/faculties", audit("faculty"), h.Catalog.CreateFaculty)
	admin.POST("/majors", audit("major"), h.Catalog.CreateMajor)
	admin.POST("/subjects", audit("subject"), h.Catalog.CreateSubject)
	admin.POST("/tags", audit("tag"), h.Catalog.CreateTag)

	admin.POST("/users", h.User.Create)
	admin.POST("/users/:id/trust", h.User.AdjustTrust)

	admin.GET("/reports", h.Report.List)
	admin.GET("/reports/:id", h.Report.Get)
	admin.POST("/reports/:id/review", h.Report.Review)

	admin.GET("/metrics", h.Metrics.Snapshot)
}
