package authsdk

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrNoToken      = errors.New("no token provided")
)

// Claims JWT 自定义声明
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	// Drone 采集设备（reaper）请求，视为超级用户
	Drone bool `json:"drone,omitempty"`
	jwt.RegisteredClaims
}

// UserContext 调用方身份
type UserContext struct {
	UserID   uint
	Username string
	Email    string
	Role     string // "admin" 表示全局管理员
	Drone    bool
}

// UID 用于日志与错误响应的调用方标识
func (u *UserContext) UID() string {
	if u == nil {
		return ""
	}
	if u.Email != "" {
		return u.Email
	}
	if u.UserID != 0 {
		return strconv.FormatUint(uint64(u.UserID), 10)
	}
	return ""
}

// IsSuperuser 全局管理员或设备请求
func (u *UserContext) IsSuperuser() bool {
	return u != nil && (u.Role == "admin" || u.Drone)
}

// ParseToken 解析并验证 JWT token
// secret: JWT 签名密钥
func ParseToken(tokenString, secret string) (*UserContext, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &UserContext{
			UserID:   claims.UserID,
			Username: claims.Username,
			Email:    claims.Email,
			Role:     claims.Role,
			Drone:    claims.Drone,
		}, nil
	}

	return nil, ErrInvalidToken
}

// SignToken 签发 token，供设备凭证与测试使用
func SignToken(claims Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
