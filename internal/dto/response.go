package dto

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	res "terminal-terrace/sdm/packages/response"
)

func SuccessResponse(c *gin.Context, data any) {
	c.JSON(200, data)
}

// ErrorResponse 按错误分类写出状态码与 {code, detail, uid}
func ErrorResponse(c *gin.Context, err error, uid string) {
	be := res.AsBusinessError(err)
	status := be.HTTPStatus()

	entry := logrus.WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
		"status": status,
		"uid":    uid,
	})
	if status >= 500 {
		entry.WithError(err).Error("请求失败")
	} else {
		entry.Debug(be.Msg)
	}

	c.AbortWithStatusJSON(status, res.ErrorResponse(be, uid))
}

// ValidationErrorResponse 处理验证错误，返回友好的JSON字段名
func ValidationErrorResponse(c *gin.Context, err error, uid string) {
	ErrorResponse(c, res.Validation("%s", ValidationMessage(err)), uid)
}

// ValidationMessage 将 validator 错误转换为可读消息，只取第一条
func ValidationMessage(err error) string {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return err.Error()
	}
	return FieldMessage(validationErrs[0])
}

// FieldMessage 单个字段的错误消息
func FieldMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is a required property", field)
	case "min":
		return fmt.Sprintf("'%s' must contain at least %s item(s)", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", field, fe.Param())
	case "objectid":
		return fmt.Sprintf("'%s' does not match '^[0-9a-f]{24}$'", field)
	default:
		return fmt.Sprintf("'%s' failed validation: %s", field, fe.Tag())
	}
}
