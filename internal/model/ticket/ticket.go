// Package ticket 下载票据模型
package ticket

import "time"

// Kind 票据类型
type Kind string

const (
	// KindSingle 单个文件，响应可声明 Content-Length
	KindSingle Kind = "single"
	// KindBatch 多个文件，以 zip 流输出
	KindBatch Kind = "batch"
)

// Target 下载目标，创建后不再修改
type Target struct {
	Path    string `json:"path"`
	ArcPath string `json:"arcpath"`
	Size    int64  `json:"size"`
}

// Ticket 下载票据
type Ticket struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"_id"`
	Kind      Kind      `gorm:"type:varchar(10);not null" json:"type"`
	Targets   []Target  `gorm:"type:jsonb;serializer:json;not null" json:"target"`
	Filename  string    `gorm:"type:varchar(255);not null" json:"filename"`
	Size      int64     `gorm:"not null" json:"size"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}

func (Ticket) TableName() string {
	return "downloads"
}
