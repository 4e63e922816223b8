package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

// SetupRouter sets up the Gin router. Everything that acts on behalf of the
// user sits behind SurfaceAuth; /rpc and /session stay open to applications.
func SetupRouter(handlers *Handlers, surfaces ports.SurfaceTokenizer, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	router.POST("/rpc", handlers.RPC)

	router.POST("/signals", SurfaceAuth(surfaces), handlers.Signal)

	approval := router.Group("/approval", SurfaceAuth(surfaces))
	{
		approval.GET("", handlers.Approval)
		approval.POST("/approve", handlers.Approve)
		approval.POST("/cancel", handlers.Cancel)
		approval.POST("/record", handlers.RecordApproval)
	}

	session := router.Group("/session")
	{
		session.GET("/return", handlers.SessionReturn)
		session.POST("/register", handlers.Register)
	}

	return router
}
