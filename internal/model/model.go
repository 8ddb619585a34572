package model

import (
	"gorm.io/gorm"

	"terminal-terrace/sdm/internal/model/hierarchy"
	"terminal-terrace/sdm/internal/model/ticket"
)

func InitTable(db *gorm.DB) error {
	// 自动迁移数据库表结构
	err := db.AutoMigrate(
		// 容器层级
		&hierarchy.Project{},
		&hierarchy.ProjectPermission{},
		&hierarchy.Session{},
		&hierarchy.Acquisition{},
		// 下载票据
		&ticket.Ticket{},
	)
	if err != nil {
		return err
	}
	return nil
}
