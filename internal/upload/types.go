package upload

import (
	"io"
	"strconv"
	"strings"

	authsdk "terminal-terrace/sdm/packages/auth-sdk"
)

// MetadataFilename 第一阶段保留的文件名（不区分大小写）
const MetadataFilename = "metadata.json"

// metadataMember 暂存包中的元数据成员名
const metadataMember = "METADATA.json"

// Overwrite 采集设备头信息覆盖
type Overwrite struct {
	GroupName    string `json:"group_name" validate:"required"`
	ProjectName  string `json:"project_name" validate:"required"`
	SeriesUID    string `json:"series_uid" validate:"required"`
	AcqNo        *int   `json:"acq_no" validate:"required"`
	Manufacturer string `json:"manufacturer" validate:"required"`
}

// Metadata 第一阶段请求体，允许额外字段
type Metadata struct {
	Filetype  string     `json:"filetype" validate:"required"`
	Overwrite *Overwrite `json:"overwrite" validate:"required"`
}

// ArcName 暂存包根目录名 series_uid[_acq_no]_filetype
// SIEMENS 设备不带采集号
func (m *Metadata) ArcName() string {
	var b strings.Builder
	b.WriteString(m.Overwrite.SeriesUID)
	if !strings.EqualFold(m.Overwrite.Manufacturer, "SIEMENS") && m.Overwrite.AcqNo != nil {
		b.WriteString("_")
		b.WriteString(strconv.Itoa(*m.Overwrite.AcqNo))
	}
	b.WriteString("_")
	b.WriteString(m.Filetype)
	return b.String()
}

// Phase 请求对应的协议阶段
type Phase int

const (
	PhaseMetadata Phase = iota + 1
	PhaseAppend
	PhaseComplete
)

// Request 增量上传请求
type Request struct {
	ID       string
	Filename string
	Complete bool
	// Digest Content-MD5 头，实际算法由配置决定
	Digest string
	Body   io.Reader
	User   *authsdk.UserContext
}

// Result 处理结果，ID 仅在第一阶段返回
type Result struct {
	Phase Phase
	ID    string
}
