package upload

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"terminal-terrace/sdm/internal/dto"
	"terminal-terrace/sdm/internal/middleware"
)

// DigestHeader 请求体摘要头
const DigestHeader = "Content-MD5"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Incremental 增量上传
// @Summary 三阶段增量上传
// @Description 无 _id 且 filename=metadata.json 时创建上传，返回新 id；带 _id 与 filename 时追加文件；complete=true 时完成上传
// @Tags 上传
// @Accept octet-stream
// @Produce json
// @Param _id query string false "上传 id"
// @Param filename query string false "文件名"
// @Param complete query bool false "是否完成"
// @Param Content-MD5 header string true "请求体摘要"
// @Success 200 {string} string "第一阶段返回上传 id"
// @Router /upload/incremental [put]
func (h *Handler) Incremental(c *gin.Context) {
	user := middleware.CurrentUser(c)
	result, err := h.service.Handle(c.Request.Context(), Request{
		ID:       c.Query("_id"),
		Filename: c.Query("filename"),
		Complete: dto.ParseFlag(c.Query("complete")),
		Digest:   c.GetHeader(DigestHeader),
		Body:     c.Request.Body,
		User:     user,
	})
	if err != nil {
		dto.ErrorResponse(c, err, user.UID())
		return
	}

	if result.Phase == PhaseMetadata {
		dto.SuccessResponse(c, result.ID)
		return
	}
	c.Status(http.StatusOK)
}

// Upload 一次性上传 tar 包
// @Summary 上传完整 tar 包
// @Tags 上传
// @Accept octet-stream
// @Param filename query string false "文件名，默认 upload"
// @Param Content-MD5 header string true "请求体摘要"
// @Success 200
// @Failure 415 {object} response.ErrorBody
// @Router /upload [put]
func (h *Handler) Upload(c *gin.Context) {
	user := middleware.CurrentUser(c)
	err := h.service.Upload(c.Request.Context(), c.Query("filename"), c.Request.Body, c.GetHeader(DigestHeader), user)
	if err != nil {
		dto.ErrorResponse(c, err, user.UID())
		return
	}
	c.Status(http.StatusOK)
}

// Status 查询增量上传进度
// @Summary 查询暂存中的上传
// @Tags 上传
// @Produce json
// @Param id path string true "上传 id"
// @Success 200 {object} staging.Session
// @Failure 403 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Router /upload/incremental/{id} [get]
func (h *Handler) Status(c *gin.Context) {
	user := middleware.CurrentUser(c)
	sess, err := h.service.Status(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		dto.ErrorResponse(c, err, user.UID())
		return
	}
	dto.SuccessResponse(c, sess)
}
