package testutils

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	model "terminal-terrace/sdm/internal/model/hierarchy"
	"terminal-terrace/sdm/packages/response"
)

// MemoryHierarchy 内存中的容器元数据，实现 hierarchy.Repository
type MemoryHierarchy struct {
	mu           sync.RWMutex
	projects     map[string]*model.Project
	sessions     map[string]*model.Session
	acquisitions map[string]*model.Acquisition
}

func NewMemoryHierarchy() *MemoryHierarchy {
	return &MemoryHierarchy{
		projects:     map[string]*model.Project{},
		sessions:     map[string]*model.Session{},
		acquisitions: map[string]*model.Acquisition{},
	}
}

// ProjectOption configures a test project
type ProjectOption func(*model.Project)

// WithFiles sets the container files
func WithFiles(files ...model.File) ProjectOption {
	return func(p *model.Project) {
		p.Files = files
	}
}

// WithMember grants uid access to the project
func WithMember(uid, access string) ProjectOption {
	return func(p *model.Project) {
		p.Permissions = append(p.Permissions, model.ProjectPermission{ProjectID: p.ID, UID: uid, Access: access})
	}
}

func (m *MemoryHierarchy) AddProject(group, name string, opts ...ProjectOption) *model.Project {
	p := &model.Project{ID: model.NewID(), Group: group, Name: name}
	for _, opt := range opts {
		opt(p)
	}
	m.mu.Lock()
	m.projects[p.ID] = p
	m.mu.Unlock()
	return p
}

func (m *MemoryHierarchy) AddSession(projectID, label string, files ...model.File) *model.Session {
	s := &model.Session{ID: model.NewID(), ProjectID: projectID, Label: label, Files: files}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *MemoryHierarchy) AddAcquisition(sessionID, label string, files ...model.File) *model.Acquisition {
	a := &model.Acquisition{ID: model.NewID(), SessionID: sessionID, Label: label, Files: files}
	m.mu.Lock()
	m.acquisitions[a.ID] = a
	m.mu.Unlock()
	return a
}

func (m *MemoryHierarchy) Project(_ context.Context, id string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.projects[id]; ok {
		return p, nil
	}
	return nil, response.NotFoundf("no such project %s", id)
}

func (m *MemoryHierarchy) Session(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, response.NotFoundf("no such session %s", id)
}

func (m *MemoryHierarchy) Acquisition(_ context.Context, id string) (*model.Acquisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.acquisitions[id]; ok {
		return a, nil
	}
	return nil, response.NotFoundf("no such acquisition %s", id)
}

func (m *MemoryHierarchy) Sessions(_ context.Context, projectID string) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.ProjectID == projectID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryHierarchy) Acquisitions(_ context.Context, sessionID string) ([]model.Acquisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Acquisition
	for _, a := range m.acquisitions {
		if a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CanAccessProject 按 group/name 查找项目成员
func (m *MemoryHierarchy) CanAccessProject(_ context.Context, uid, group, project string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Group != group || p.Name != project {
			continue
		}
		for _, perm := range p.Permissions {
			if perm.UID == uid {
				return true, nil
			}
		}
	}
	return false, nil
}

// WriteDataFile 在 data_path 下按容器布局写入文件内容
func WriteDataFile(t *testing.T, dataPath, containerID string, f model.File, content []byte) string {
	t.Helper()
	dir := filepath.Join(dataPath, containerID[len(containerID)-3:], containerID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, f.Filename())
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
