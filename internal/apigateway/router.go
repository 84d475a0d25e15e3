// Package apigateway assembles the HTTP surface of the platform.
package apigateway

import (
	"github.com/gin-gonic/gin"

	"oral-eval-platform/internal/auth"
	"oral-eval-platform/internal/configmanagement"
	"oral-eval-platform/internal/jobmanagement"
	"oral-eval-platform/internal/reportexport"
)

// SetupRouter initializes the main Gin router: public auth routes, the
// candidate-facing evaluation API and the session-guarded admin surface.
func SetupRouter(jobs *jobmanagement.Handlers, segments *jobmanagement.SegmentHandlers) *gin.Engine {
	router := gin.Default()

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/login", auth.LoginHandler)
		authRoutes.POST("/logout", auth.LogoutHandler)
	}

	api := router.Group("/api")
	{
		api.POST("/segments", segments.UploadSegmentHandler)

		evalRoutes := api.Group("/evaluations")
		{
			evalRoutes.POST("", jobs.SubmitEvaluationHandler)
			evalRoutes.GET("/latest", jobs.GetLatestJobHandler)
			evalRoutes.GET("/:id", jobs.GetJobHandler)
			evalRoutes.GET("/:id/result", jobs.GetResultHandler)
		}
	}

	adminRoutes := router.Group("/admin")
	adminRoutes.Use(auth.AuthMiddleware())
	{
		credentialRoutes := adminRoutes.Group("/credentials")
		{
			credentialRoutes.POST("", configmanagement.CreateCredentialHandler)
			credentialRoutes.POST("/promote", configmanagement.PromoteCredentialHandler)
			credentialRoutes.POST("/reset-quota", configmanagement.ResetQuotaHandler)
			credentialRoutes.GET("", configmanagement.ListCredentialsHandler)
			credentialRoutes.GET("/:id", configmanagement.GetCredentialHandler)
			credentialRoutes.PUT("/:id/deactivate", configmanagement.DeactivateCredentialHandler)
			credentialRoutes.DELETE("/:id", configmanagement.DeleteCredentialHandler)
		}

		adminRoutes.GET("/evaluations/:id/export", reportexport.ExportJobHandler)
	}

	return router
}
