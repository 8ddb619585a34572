package download

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/dto"
	"terminal-terrace/sdm/internal/middleware"
	"terminal-terrace/sdm/internal/model/ticket"
	"terminal-terrace/sdm/packages/response"
)

type Handler struct {
	service   *Service
	assembler *Assembler
	idle      time.Duration
	log       logrus.FieldLogger
}

func NewHandler(service *Service, assembler *Assembler, idle time.Duration, log logrus.FieldLogger) *Handler {
	return &Handler{service: service, assembler: assembler, idle: idle, log: log}
}

// Preflight 批量下载预检
// @Summary 创建批量下载票据
// @Tags 下载
// @Accept json
// @Produce json
// @Param request body PreflightRequest true "容器选择"
// @Success 200 {object} PreflightResponse
// @Router /download [post]
func (h *Handler) Preflight(c *gin.Context) {
	uid := middleware.CurrentUser(c).UID()

	var req PreflightRequest
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	resp, err := h.service.Preflight(c.Request.Context(), &req, requestBase(c))
	if err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	dto.SuccessResponse(c, resp)
}

// PrepareFile 单文件下载
// @Summary 创建单文件下载票据
// @Tags 下载
// @Accept json
// @Produce json
// @Param request body FileRequest true "文件"
// @Success 200 {object} PreflightResponse
// @Router /download/file [post]
func (h *Handler) PrepareFile(c *gin.Context) {
	uid := middleware.CurrentUser(c).UID()

	var req FileRequest
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	resp, err := h.service.PrepareFile(c.Request.Context(), &req, requestBase(c))
	if err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Fetch 凭票据下载，路径中的文件名仅供浏览器使用
// @Summary 下载
// @Tags 下载
// @Produce octet-stream
// @Param ticket query string true "票据 id"
// @Param attach query bool false "以附件形式下载"
// @Success 200 {file} file
// @Failure 404 {object} response.ErrorBody
// @Router /download/{filename} [get]
func (h *Handler) Fetch(c *gin.Context) {
	uid := middleware.CurrentUser(c).UID()

	t, err := h.service.Ticket(c.Request.Context(), c.Query("ticket"))
	if err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	attach := dto.ParseFlag(c.Query("attach"))

	switch t.Kind {
	case ticket.KindSingle:
		h.sendFile(c, t, attach, uid)
	default:
		h.sendArchive(c, t, attach)
	}
}

func (h *Handler) sendFile(c *gin.Context, t *ticket.Ticket, attach bool, uid string) {
	if len(t.Targets) != 1 {
		dto.ErrorResponse(c, response.NewBusinessError(response.WithErrorMessage("malformed single ticket")), uid)
		return
	}
	f, err := os.Open(t.Targets[0].Path)
	if err != nil {
		if os.IsNotExist(err) {
			dto.ErrorResponse(c, response.NotFoundf("no such file %s", t.Filename), uid)
			return
		}
		dto.ErrorResponse(c, err, uid)
		return
	}
	defer f.Close()

	// 票据记录的大小可能已过期，以磁盘上的实际大小为准
	info, err := f.Stat()
	if err != nil {
		dto.ErrorResponse(c, err, uid)
		return
	}
	if info.Size() != t.Size {
		h.log.WithFields(logrus.Fields{"ticket": t.ID, "recorded": t.Size, "actual": info.Size()}).Warn("文件大小与票据不一致")
	}

	setContentHeaders(c, t.Filename, attach)
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	c.Status(http.StatusOK)

	w, reset := withIdleTimeout(c.Writer, h.idle)
	defer reset()
	if _, err := io.Copy(w, f); err != nil {
		h.log.WithError(err).WithField("ticket", t.ID).Warn("下载中断")
	}
}

// sendArchive 批量票据以 zip 流输出，不声明 Content-Length
func (h *Handler) sendArchive(c *gin.Context, t *ticket.Ticket, attach bool) {
	setContentHeaders(c, t.Filename, attach)
	c.Status(http.StatusOK)

	w, reset := withIdleTimeout(c.Writer, h.idle)
	defer reset()
	if err := h.assembler.Stream(c.Request.Context(), w, t.Targets); err != nil {
		h.log.WithError(err).WithField("ticket", t.ID).Warn("打包下载中断")
	}
}

func setContentHeaders(c *gin.Context, filename string, attach bool) {
	if attach {
		c.Header("Content-Type", "application/octet-stream")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		return
	}
	c.Header("Content-Type", guessMIME(filename))
}

func init() {
	// 系统 mime.types 不一定收录
	_ = mime.AddExtensionType(".zip", "application/zip")
}

func guessMIME(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// requestBase 请求的 scheme://host，反向代理时优先使用 X-Forwarded-Proto
func requestBase(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}
