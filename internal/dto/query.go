package dto

import "strings"

// ParseFlag 查询参数中的布尔值，仅 "1" / "true"（不区分大小写）为真
func ParseFlag(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true":
		return true
	}
	return false
}
