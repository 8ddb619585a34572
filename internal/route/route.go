package route

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"terminal-terrace/sdm/internal/download"
	"terminal-terrace/sdm/internal/middleware"
	"terminal-terrace/sdm/internal/upload"
	"terminal-terrace/sdm/packages/response"
)

// Deps 路由依赖，由 main 组装
type Deps struct {
	Upload      *upload.Handler
	Download    *download.Handler
	JWTSecret   string
	FrontendURL string
}

func initRoute(r *gin.Engine, deps Deps) {
	optional := middleware.OptionalJWTAuth(deps.JWTSecret)
	required := middleware.JWTAuth(deps.JWTSecret)

	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, response.SuccessResponse(gin.H{"status": "ok"}))
	})
	api.HEAD("", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	upload.RegisterRoutes(api, deps.Upload, optional, required)
	download.RegisterRoutes(api, deps.Download, optional)
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.Default()

	origin := deps.FrontendURL
	if origin == "" {
		origin = "http://localhost:5173" // 默认值
	}

	// 设置跨域请求
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{origin},
		AllowMethods:  []string{"GET", "POST", "PUT", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Access-Token", upload.DigestHeader},
		ExposeHeaders: []string{"Content-Disposition", "Content-Length"},
	}))

	initRoute(r, deps)

	return r
}
