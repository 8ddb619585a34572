package upload

import (
	"encoding/json"
	"errors"
	"fmt"

	"terminal-terrace/sdm/internal/dto"
)

var validate = dto.NewValidator()

// ValidateMetadata 解析并校验第一阶段请求体，不产生任何副作用
func ValidateMetadata(raw []byte) (*Metadata, dto.Violations) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, dto.Violations{{Message: describeDecodeError(err)}}
	}
	if violations := dto.Collect(validate.Struct(&meta)); len(violations) > 0 {
		return nil, violations
	}
	return &meta, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("'%s' must be of type %s", typeErr.Field, typeErr.Type)
	}
	return "invalid JSON: " + err.Error()
}
