package app

import (
	"advanced_survey_backend/docs"
	"advanced_survey_backend/internal/config"
	"advanced_survey_backend/internal/middleware"
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/monitoring"
	"advanced_survey_backend/pkg/security"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 本地报表下载，凭导出状态接口签发的限时链接访问
	if c.report != nil {
		router.GET("/exports/*filepath", c.report.DownloadReport)
	}

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerLearnerRoutes(authGroup, c, cfg)
		a.registerTeacherRoutes(authGroup, c)
	}
}

// 提交接口按学员限流
func submitLimiter(cfg *config.Config) gin.HandlerFunc {
	return security.RateLimiter(cfg.RateLimit.SubmitPerMinute, time.Minute, func(c *gin.Context) string {
		if user := util.GetUserFromContext(c); user != nil {
			return fmt.Sprintf("user:%d", user.UserID)
		}
		return c.ClientIP()
	})
}

func (a *App) registerLearnerRoutes(rg *gin.RouterGroup, c *controllers, cfg *config.Config) {
	rg.GET("/surveys/:id", c.survey.GetSurvey)
	rg.POST("/surveys/:id/submit", submitLimiter(cfg), c.survey.Submit)

	// 结果查看者（教职人员或配置的用户组），权限在控制器内判断
	rg.GET("/surveys/:id/events", c.survey.ListEvents)
	rg.POST("/surveys/:id/export", c.export.RequestExport)
	rg.GET("/surveys/:id/export", c.export.GetExportStatus)
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.POST("/surveys", c.survey.CreateSurvey)
		teacher.GET("/surveys/:id/studio", c.survey.GetStudio)
		teacher.PUT("/surveys/:id/studio", c.survey.UpdateStudio)
	}
}
