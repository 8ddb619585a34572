// Package hierarchy 容器元数据的只读访问
package hierarchy

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	model "terminal-terrace/sdm/internal/model/hierarchy"
	"terminal-terrace/sdm/packages/response"
)

// Repository 元数据存储
// 子容器按 id 升序排列，id 前缀为创建时间，因此结果与创建顺序一致
type Repository interface {
	Project(ctx context.Context, id string) (*model.Project, error)
	Session(ctx context.Context, id string) (*model.Session, error)
	Acquisition(ctx context.Context, id string) (*model.Acquisition, error)
	Sessions(ctx context.Context, projectID string) ([]model.Session, error)
	Acquisitions(ctx context.Context, sessionID string) ([]model.Acquisition, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Project(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "project", id)
	}
	return &project, nil
}

func (r *GormRepository) Session(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "session", id)
	}
	return &session, nil
}

func (r *GormRepository) Acquisition(ctx context.Context, id string) (*model.Acquisition, error) {
	var acq model.Acquisition
	if err := r.db.WithContext(ctx).First(&acq, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "acquisition", id)
	}
	return &acq, nil
}

func (r *GormRepository) Sessions(ctx context.Context, projectID string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id ASC").Find(&sessions).Error
	return sessions, errors.Wrap(err, "list sessions")
}

func (r *GormRepository) Acquisitions(ctx context.Context, sessionID string) ([]model.Acquisition, error) {
	var acqs []model.Acquisition
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&acqs).Error
	return acqs, errors.Wrap(err, "list acquisitions")
}

func notFound(err error, level, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return response.NotFoundf("no such %s %s", level, id)
	}
	return errors.Wrapf(err, "load %s %s", level, id)
}
