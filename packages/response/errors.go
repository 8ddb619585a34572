package response

import (
	"errors"
	"fmt"
	"net/http"
)

// 业务错误码，与 HTTP 状态码一一对应
const (
	// 失败
	Fail ResponseCode = http.StatusInternalServerError
	// 参数错误 / 请求体不符合 schema
	InvalidParameter ResponseCode = http.StatusBadRequest
	// 内容摘要不一致
	IntegrityMismatch ResponseCode = http.StatusBadRequest
	// 未登录
	Unauthorized ResponseCode = http.StatusUnauthorized
	// 无权限
	Forbidden ResponseCode = http.StatusForbidden
	// 资源不存在（上传 id、ticket、容器）
	NotFound ResponseCode = http.StatusNotFound
	// 资源被占用（暂存包锁等待超时）
	Conflict ResponseCode = http.StatusConflict
	// 不支持的负载格式
	UnsupportedFormat ResponseCode = http.StatusUnsupportedMediaType
	// 服务端配置缺失
	Misconfigured ResponseCode = http.StatusInternalServerError
)

// Kind 错误分类
type Kind string

const (
	KindInternal          Kind = "internal"
	KindValidation        Kind = "validation"
	KindIntegrity         Kind = "integrity"
	KindNotFound          Kind = "not_found"
	KindPermission        Kind = "permission"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindConfiguration     Kind = "configuration"
	KindBusy              Kind = "busy"
	KindUpstream          Kind = "upstream"
)

var kindCodes = map[Kind]ResponseCode{
	KindInternal:          Fail,
	KindValidation:        InvalidParameter,
	KindIntegrity:         IntegrityMismatch,
	KindNotFound:          NotFound,
	KindPermission:        Forbidden,
	KindUnsupportedFormat: UnsupportedFormat,
	KindConfiguration:     Misconfigured,
	KindBusy:              Conflict,
}

type BusinessError struct {
	Kind Kind
	Code ResponseCode
	Msg  string
	Err  error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// Is 同类错误视为相等，便于 errors.Is(err, response.ErrNotFound)
func (e *BusinessError) Is(target error) bool {
	t, ok := target.(*BusinessError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

type ErrorOption func(*BusinessError)

func WithErrorCode(code ResponseCode) ErrorOption {
	return func(be *BusinessError) {
		be.Code = code
	}
}

func WithErrorMessage(msg string) ErrorOption {
	return func(be *BusinessError) {
		be.Msg = msg
	}
}

func WithError(err error) ErrorOption {
	return func(be *BusinessError) {
		be.Err = err
	}
}

// WithKind 设置错误分类，同时带出默认状态码
func WithKind(kind Kind) ErrorOption {
	return func(be *BusinessError) {
		be.Kind = kind
		if code, ok := kindCodes[kind]; ok {
			be.Code = code
		}
	}
}

func NewBusinessError(opts ...ErrorOption) *BusinessError {
	err := &BusinessError{
		Kind: KindInternal,
		Code: Fail,
		Msg:  "business error",
		Err:  nil,
	}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

// 用于 errors.Is 判断的哨兵值
var (
	ErrValidation        = &BusinessError{Kind: KindValidation}
	ErrIntegrity         = &BusinessError{Kind: KindIntegrity}
	ErrNotFound          = &BusinessError{Kind: KindNotFound}
	ErrPermission        = &BusinessError{Kind: KindPermission}
	ErrUnsupportedFormat = &BusinessError{Kind: KindUnsupportedFormat}
	ErrConfiguration     = &BusinessError{Kind: KindConfiguration}
	ErrBusy              = &BusinessError{Kind: KindBusy}
)

func Validation(format string, args ...any) *BusinessError {
	return NewBusinessError(WithKind(KindValidation), WithErrorMessage(fmt.Sprintf(format, args...)))
}

func Integrity(msg string) *BusinessError {
	return NewBusinessError(WithKind(KindIntegrity), WithErrorMessage(msg))
}

func NotFoundf(format string, args ...any) *BusinessError {
	return NewBusinessError(WithKind(KindNotFound), WithErrorMessage(fmt.Sprintf(format, args...)))
}

func Permission(msg string) *BusinessError {
	return NewBusinessError(WithKind(KindPermission), WithErrorMessage(msg))
}

func Unsupported(msg string) *BusinessError {
	return NewBusinessError(WithKind(KindUnsupportedFormat), WithErrorMessage(msg))
}

func Configuration(format string, args ...any) *BusinessError {
	return NewBusinessError(WithKind(KindConfiguration), WithErrorMessage(fmt.Sprintf(format, args...)))
}

func Busy(format string, args ...any) *BusinessError {
	return NewBusinessError(WithKind(KindBusy), WithErrorMessage(fmt.Sprintf(format, args...)))
}

// Upstream 外部协作方返回的状态码原样透传
func Upstream(status int, detail string) *BusinessError {
	return NewBusinessError(
		WithErrorCode(ResponseCode(status)),
		WithErrorMessage(detail),
		func(be *BusinessError) { be.Kind = KindUpstream },
	)
}

// AsBusinessError 将任意错误转换为 BusinessError，未知错误按 500 处理
func AsBusinessError(err error) *BusinessError {
	if err == nil {
		return nil
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be
	}
	return NewBusinessError(WithErrorMessage(err.Error()), WithError(err))
}

// HTTPStatus 错误对应的 HTTP 状态码
func (e *BusinessError) HTTPStatus() int {
	if e.Code < 400 || e.Code > 599 {
		return http.StatusInternalServerError
	}
	return int(e.Code)
}
