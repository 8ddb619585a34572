package download

// Level 容器层级
type Level string

const (
	LevelProject     Level = "project"
	LevelSession     Level = "session"
	LevelAcquisition Level = "acquisition"
)

// child 下一层级，采集没有子层级
func (l Level) child() (Level, bool) {
	switch l {
	case LevelProject:
		return LevelSession, true
	case LevelSession:
		return LevelAcquisition, true
	}
	return "", false
}

// parent 上一层级，项目没有父层级
func (l Level) parent() (Level, bool) {
	switch l {
	case LevelAcquisition:
		return LevelSession, true
	case LevelSession:
		return LevelProject, true
	}
	return "", false
}

// Node 选中的容器
type Node struct {
	Level Level  `json:"level" validate:"required,oneof=project session acquisition"`
	ID    string `json:"_id" validate:"required,objectid"`
}

// PreflightRequest 批量下载预检
type PreflightRequest struct {
	Optional *bool  `json:"optional" validate:"required"`
	Nodes    []Node `json:"nodes" validate:"required,min=1,dive"`
}

// FileRequest 单文件下载
type FileRequest struct {
	Level Level  `json:"level" validate:"required,oneof=project session acquisition"`
	ID    string `json:"_id" validate:"required,objectid"`
	Name  string `json:"name" validate:"required"`
}

// PreflightResponse 预检结果
type PreflightResponse struct {
	URL     string `json:"url"`
	FileCnt int    `json:"file_cnt"`
	Size    int64  `json:"size"`
}
