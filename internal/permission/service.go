// Package permission 项目权限检查
// 只回答"调用方是否为项目成员"，超级用户的判断由调用方完成
package permission

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// 访问级别
const (
	AccessReadOnly  = "ro"
	AccessReadWrite = "rw"
	AccessAdmin     = "admin"
)

// AccessLevelMap 访问级别到等级的映射，数值越大权限越高
var AccessLevelMap = map[string]int{
	AccessAdmin:     100,
	AccessReadWrite: 50,
	AccessReadOnly:  10,
}

// GetAccessLevel 未知级别返回 0
func GetAccessLevel(access string) int {
	return AccessLevelMap[access]
}

// HasRequiredAccess 实际级别是否满足要求
func HasRequiredAccess(actual, required string) bool {
	return GetAccessLevel(actual) > 0 && GetAccessLevel(actual) >= GetAccessLevel(required)
}

// PermissionService 基于 project_permissions 表的权限服务
type PermissionService struct {
	db *gorm.DB
}

func NewPermissionService(db *gorm.DB) *PermissionService {
	return &PermissionService{db: db}
}

// GetProjectAccess 调用方在 group/project 上的访问级别，非成员返回空字符串
func (s *PermissionService) GetProjectAccess(ctx context.Context, uid, group, project string) (string, error) {
	var access string
	err := s.db.WithContext(ctx).
		Table("project_permissions").
		Select("project_permissions.access").
		Joins("JOIN projects ON projects.id = project_permissions.project_id").
		Where("projects.\"group\" = ? AND projects.name = ? AND project_permissions.uid = ?", group, project, uid).
		Limit(1).
		Scan(&access).Error
	if err != nil {
		return "", errors.Wrap(err, "query project permissions")
	}
	return access, nil
}

// CanAccessProject 调用方是否为项目成员（任意访问级别）
func (s *PermissionService) CanAccessProject(ctx context.Context, uid, group, project string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	access, err := s.GetProjectAccess(ctx, uid, group, project)
	if err != nil {
		return false, err
	}
	return access != "", nil
}
