package authsdk

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// ExtractToken 从 HTTP 请求中提取 JWT token
// 支持三种方式：
// 1. access_token cookie
// 2. Authorization header (Bearer token)
// 3. X-Access-Token header
func ExtractToken(r *http.Request) (string, error) {
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if token := r.Header.Get("Authorization"); token != "" {
		if strings.HasPrefix(token, "Bearer ") {
			return strings.TrimPrefix(token, "Bearer "), nil
		}
		return token, nil
	}

	if token := r.Header.Get("X-Access-Token"); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}

// WithUser 将身份写入 context
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext 读取身份，未登录返回空的 UserContext（UserID=0）
func UserFromContext(ctx context.Context) *UserContext {
	if user, ok := ctx.Value(contextKey{}).(*UserContext); ok && user != nil {
		return user
	}
	return &UserContext{}
}
