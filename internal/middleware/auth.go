package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/dto"
	authsdk "terminal-terrace/sdm/packages/auth-sdk"
	"terminal-terrace/sdm/packages/response"
)

// 兼容 c.Get 的读取方式
const (
	ContextUserID = "user_id"
	ContextUID    = "uid"
)

// JWTAuth JWT 认证中间件（必需认证）
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := parse(c, secret)
		if err != nil {
			dto.ErrorResponse(c, response.NewBusinessError(
				response.WithErrorCode(response.Unauthorized),
				response.WithErrorMessage(err.Error()),
			), "")
			return
		}
		attach(c, user)
		c.Next()
	}
}

// OptionalJWTAuth 可选的 JWT 认证中间件（不强制要求认证，但如果有token则解析）
func OptionalJWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := parse(c, secret)
		if err == nil {
			attach(c, user)
		} else if err != authsdk.ErrNoToken {
			logrus.WithError(err).Debug("忽略无效的认证令牌")
		}
		c.Next()
	}
}

func parse(c *gin.Context, secret string) (*authsdk.UserContext, error) {
	token, err := authsdk.ExtractToken(c.Request)
	if err != nil {
		return nil, err
	}
	return authsdk.ParseToken(token, secret)
}

// attach 同时写入 gin 上下文与 request context，服务层只依赖后者
func attach(c *gin.Context, user *authsdk.UserContext) {
	c.Set(ContextUserID, user.UserID)
	c.Set(ContextUID, user.UID())
	c.Request = c.Request.WithContext(authsdk.WithUser(c.Request.Context(), user))
}

// CurrentUser 当前请求的调用方，未认证时为空身份
func CurrentUser(c *gin.Context) *authsdk.UserContext {
	return authsdk.UserFromContext(c.Request.Context())
}
