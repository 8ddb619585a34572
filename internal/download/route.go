package download

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, h *Handler, auth gin.HandlerFunc) {
	g := r.Group("/download")
	g.Use(auth)
	{
		g.POST("", h.Preflight)
		g.POST("/file", h.PrepareFile)

		// 文件名只用于浏览器展示
		g.GET("", h.Fetch)
		g.GET("/:filename", h.Fetch)
	}
}
