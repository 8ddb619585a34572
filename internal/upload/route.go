package upload

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes auth 允许匿名请求，由服务层判断权限；required 要求已登录
func RegisterRoutes(r *gin.RouterGroup, h *Handler, auth, required gin.HandlerFunc) {
	g := r.Group("/upload")
	g.Use(auth)
	{
		g.PUT("", h.Upload)
		g.PUT("/incremental", h.Incremental)
	}
	r.GET("/upload/incremental/:id", required, h.Status)
}
