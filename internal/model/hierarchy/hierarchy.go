// Package hierarchy 项目 / 会话 / 采集三级容器模型
package hierarchy

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// File 容器内的文件记录
// 实际文件位于 <data_path>/<容器 id 后三位>/<容器 id>/<Name+Ext>
type File struct {
	Name     string `json:"name"`
	Ext      string `json:"ext"`
	Size     int64  `json:"size"`
	Optional bool   `json:"optional,omitempty"`
}

// Filename 带扩展名的文件名
func (f File) Filename() string {
	return f.Name + f.Ext
}

// Project 项目
type Project struct {
	ID        string    `gorm:"primaryKey;type:char(24)" json:"_id"`
	Group     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_project_group_name" json:"group"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_project_group_name" json:"name"`
	Files     []File    `gorm:"type:jsonb;serializer:json" json:"files"`
	CreatedAt time.Time `json:"created"`

	Permissions []ProjectPermission `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"permissions,omitempty"`
}

// ProjectPermission 项目成员
type ProjectPermission struct {
	ProjectID string    `gorm:"primaryKey;type:char(24)" json:"project_id"`
	UID       string    `gorm:"primaryKey;type:varchar(255)" json:"_id"`
	Access    string    `gorm:"type:varchar(20);not null;default:'ro'" json:"access"` // ro, rw, admin
	CreatedAt time.Time `json:"created"`
}

// Session 会话
type Session struct {
	ID        string    `gorm:"primaryKey;type:char(24)" json:"_id"`
	ProjectID string    `gorm:"type:char(24);not null;index" json:"project"`
	Label     string    `gorm:"type:varchar(255)" json:"label"`
	Files     []File    `gorm:"type:jsonb;serializer:json" json:"files"`
	CreatedAt time.Time `json:"created"`
}

// Acquisition 采集
type Acquisition struct {
	ID        string    `gorm:"primaryKey;type:char(24)" json:"_id"`
	SessionID string    `gorm:"type:char(24);not null;index" json:"session"`
	Label     string    `gorm:"type:varchar(255)" json:"label"`
	Files     []File    `gorm:"type:jsonb;serializer:json" json:"files"`
	CreatedAt time.Time `json:"created"`
}

func (Project) TableName() string {
	return "projects"
}

func (ProjectPermission) TableName() string {
	return "project_permissions"
}

func (Session) TableName() string {
	return "sessions"
}

func (Acquisition) TableName() string {
	return "acquisitions"
}

var (
	processUnique [5]byte
	idCounter     atomic.Uint32
)

func init() {
	if _, err := rand.Read(processUnique[:]); err != nil {
		panic(err)
	}
}

// NewID 生成 24 位十六进制 id：4 字节秒级时间戳 + 5 字节进程随机值 + 3 字节计数器
// 同一进程内按生成顺序递增
func NewID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[:4], uint32(time.Now().Unix()))
	copy(b[4:9], processUnique[:])
	n := idCounter.Add(1)
	b[9], b[10], b[11] = byte(n>>16), byte(n>>8), byte(n)
	return hex.EncodeToString(b[:])
}
