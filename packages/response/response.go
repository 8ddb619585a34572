package response

type ResponseCode int

// 统一业务代码
const (
	Success = 100
)

type Response struct {
	Message string       `json:"message"`
	Code    ResponseCode `json:"code"`
	Data    any          `json:"data"`
}

// ErrorBody 错误响应体，code 与 HTTP 状态码一致
type ErrorBody struct {
	Code   ResponseCode `json:"code"`
	Detail string       `json:"detail"`
	UID    string       `json:"uid,omitempty"`
}

func SuccessResponse(data any) Response {
	return Response{
		Message: "success",
		Code:    Success,
		Data:    data,
	}
}

func ErrorResponse(err *BusinessError, uid string) ErrorBody {
	return ErrorBody{
		Code:   ResponseCode(err.HTTPStatus()),
		Detail: err.Msg,
		UID:    uid,
	}
}
