package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/middleware"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/service"
	"github.com/noah-isme/mayegue-core/pkg/config"
	"github.com/noah-isme/mayegue-core/pkg/logger"
	corsmiddleware "github.com/noah-isme/mayegue-core/pkg/middleware/cors"
	"github.com/noah-isme/mayegue-core/pkg/middleware/requestid"
)

// RouterDeps carries everything the HTTP surface is built from.
type RouterDeps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *service.MetricsService
	Sessions    middleware.TokenValidator
	Maintenance middleware.MaintenanceChecker

	Auth      *AuthHandler
	Guest     *GuestHandler
	Progress  *ProgressHandler
	Content   *ContentHandler
	Contact   *ContactHandler
	Analytics *AnalyticsHandler
	Sync      *SyncHandler
	Admin     *AdminHandler
	Health    *MetricsHandler
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(d.Logger))
	r.Use(corsmiddleware.New(d.Config.CORS))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", d.Health.Health)
	r.GET("/ready", d.Health.Ready)
	if d.Config.Metrics.Enabled {
		r.GET("/metrics", d.Health.Prometheus)
	}
	if d.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.Config.APIPrefix)
	api.Use(middleware.OptionalJWT(d.Sessions))

	auth := api.Group("/auth")
	auth.POST("/signup", d.Auth.SignUp)
	auth.POST("/signin", d.Auth.SignIn)
	auth.POST("/federated", d.Auth.SignInFederated)
	auth.POST("/password-reset", d.Auth.RequestPasswordReset)
	auth.POST("/signout", middleware.JWT(d.Sessions), d.Auth.SignOut)
	auth.POST("/verify-email", middleware.JWT(d.Sessions), d.Auth.SendVerificationEmail)

	// Signed tokens are the credential for downloads.
	api.GET("/admin/backups/download", d.Admin.DownloadBackup)

	public := api.Group("")
	public.Use(middleware.Maintenance(d.Maintenance))
	public.GET("/guest/usage", d.Guest.Usage)
	public.GET("/guest/usage/:contentType", d.Guest.Check)
	public.POST("/guest/usage/:contentType", d.Guest.Consume)
	public.POST("/contact", d.Contact.Submit)
	public.POST("/newsletter", d.Contact.Subscribe)
	public.DELETE("/newsletter", d.Contact.Unsubscribe)
	public.POST("/events", d.Analytics.Track)

	member := api.Group("")
	member.Use(middleware.JWT(d.Sessions), middleware.Maintenance(d.Maintenance))
	member.GET("/me", d.Auth.Me)
	member.PUT("/progress", d.Progress.Record)
	member.GET("/progress", d.Progress.List)
	member.GET("/stats", d.Progress.Stats)
	member.GET("/achievements", d.Progress.Achievements)
	member.POST("/achievements/:code", d.Progress.Earn)
	member.POST("/sync/writes", d.Sync.Submit)
	member.POST("/sync/drain", d.Sync.Drain)
	member.GET("/sync/stats", d.Sync.Stats)

	content := member.Group("/content")
	content.Use(middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
	content.POST("", d.Content.Create)
	content.GET("/mine", d.Content.Mine)
	content.POST("/:id/submit", d.Content.Submit)
	content.DELETE("/:id", d.Content.Delete)

	admin := member.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/users", d.Admin.ListUsers)
	admin.PUT("/users/:id/role", d.Admin.UpdateRole)
	admin.PUT("/users/:id/active", d.Admin.SetActive)
	admin.DELETE("/users/:id", d.Admin.DeleteUser)
	admin.GET("/content/pending", d.Admin.PendingContent)
	admin.POST("/content/:id/approve", d.Admin.ApproveContent)
	admin.POST("/content/:id/reject", d.Admin.RejectContent)
	admin.GET("/settings", d.Admin.Settings)
	admin.PUT("/settings/:key", d.Admin.UpdateSetting)
	admin.POST("/backup", d.Admin.Backup)
	admin.GET("/backups", d.Admin.Backups)
	admin.POST("/restore", d.Admin.Restore)
	admin.GET("/export", d.Admin.Export)
	admin.GET("/logs", d.Admin.Logs)
	admin.GET("/migrations", d.Admin.Migrations)
	admin.GET("/queue/exhausted", d.Admin.ExhaustedQueue)
	admin.POST("/queue/:id/requeue", d.Admin.Requeue)
	admin.GET("/contact", d.Contact.List)
	admin.GET("/analytics/events", d.Analytics.Counts)
	admin.GET("/metrics", d.Health.Snapshot)

	return r
}
