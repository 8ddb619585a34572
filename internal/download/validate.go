package download

import (
	"bytes"
	"encoding/json"
	"io"

	"terminal-terrace/sdm/internal/dto"
	"terminal-terrace/sdm/packages/response"
)

const maxRequestSize = 1 << 20

var validate = dto.NewValidator()

// decodeStrict 拒绝未知字段与多余内容
func decodeStrict(r io.Reader, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r, maxRequestSize+1))
	if err != nil {
		return response.Validation("read request: %v", err)
	}
	if len(raw) > maxRequestSize {
		return response.Validation("request exceeds %d bytes", maxRequestSize)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return response.Validation("invalid request: %v", err)
	}
	if dec.More() {
		return response.Validation("invalid request: trailing data")
	}
	return nil
}

// ValidatePreflight 纯函数，返回全部校验失败
func ValidatePreflight(req *PreflightRequest) dto.Violations {
	return dto.Collect(validate.Struct(req))
}

// ValidateFileRequest 纯函数，返回全部校验失败
func ValidateFileRequest(req *FileRequest) dto.Violations {
	return dto.Collect(validate.Struct(req))
}

func violationError(v dto.Violations) error {
	if len(v) == 0 {
		return nil
	}
	return response.Validation("%s", v.Error())
}
