package download

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/hierarchy"
	model "terminal-terrace/sdm/internal/model/hierarchy"
	"terminal-terrace/sdm/internal/model/ticket"
	"terminal-terrace/sdm/packages/response"
)

const (
	arcRoot      = "sdm"
	untitled     = "untitled"
	idShardWidth = 3
)

// Resolution 解析结果，Targets 顺序即归档中的条目顺序
type Resolution struct {
	Targets []ticket.Target
	Size    int64
}

// Resolver 将容器选择展开为下载目标
// 不做权限过滤，调用方需在解析前完成权限检查
type Resolver struct {
	repo     hierarchy.Repository
	dataPath string
	log      logrus.FieldLogger
}

func NewResolver(repo hierarchy.Repository, dataPath string, log logrus.FieldLogger) *Resolver {
	return &Resolver{repo: repo, dataPath: dataPath, log: log}
}

// node 一个已加载的容器
type node struct {
	id      string
	parent  string
	segment string
	files   []model.File
}

// Resolve 按选择顺序展开所有节点
func (r *Resolver) Resolve(ctx context.Context, nodes []Node, optional bool) (*Resolution, error) {
	if r.dataPath == "" {
		return nil, response.Configuration("data_path is not configured")
	}
	res := &Resolution{}
	for _, sel := range nodes {
		nd, err := r.load(ctx, sel.Level, sel.ID)
		if err != nil {
			return nil, err
		}
		prefix, err := r.prefix(ctx, sel.Level, nd)
		if err != nil {
			return nil, err
		}
		if err := r.expand(ctx, sel.Level, nd, prefix, optional, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ResolveFile 单个容器中的单个文件，文件不存在返回 NotFoundError
func (r *Resolver) ResolveFile(ctx context.Context, level Level, id, name string) (*ticket.Target, error) {
	if r.dataPath == "" {
		return nil, response.Configuration("data_path is not configured")
	}
	nd, err := r.load(ctx, level, id)
	if err != nil {
		return nil, err
	}
	prefix, err := r.prefix(ctx, level, nd)
	if err != nil {
		return nil, err
	}
	for _, f := range nd.files {
		if f.Filename() != name && f.Name != name {
			continue
		}
		target, ok := r.target(nd.id, prefix, f)
		if !ok {
			break
		}
		return &target, nil
	}
	return nil, response.NotFoundf("no such file %s", name)
}

// prefix 从项目到当前节点的归档路径前缀，逐级向上解析
func (r *Resolver) prefix(ctx context.Context, level Level, nd *node) (string, error) {
	parentLevel, ok := level.parent()
	if !ok {
		return arcRoot + "/" + nd.segment, nil
	}
	parent, err := r.load(ctx, parentLevel, nd.parent)
	if err != nil {
		return "", err
	}
	up, err := r.prefix(ctx, parentLevel, parent)
	if err != nil {
		return "", err
	}
	return up + "/" + nd.segment, nil
}

// expand 收集当前节点的文件，再依次展开子节点
func (r *Resolver) expand(ctx context.Context, level Level, nd *node, prefix string, optional bool, res *Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range nd.files {
		if f.Optional && !optional {
			continue
		}
		target, ok := r.target(nd.id, prefix, f)
		if !ok {
			continue
		}
		res.Targets = append(res.Targets, target)
		res.Size += target.Size
	}

	childLevel, ok := level.child()
	if !ok {
		return nil
	}
	children, err := r.children(ctx, childLevel, nd.id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := r.expand(ctx, childLevel, child, prefix+"/"+child.segment, optional, res); err != nil {
			return err
		}
	}
	return nil
}

// target 存储中不存在的文件直接跳过
func (r *Resolver) target(containerID, prefix string, f model.File) (ticket.Target, bool) {
	path := r.storagePath(containerID, f.Filename())
	if _, err := os.Stat(path); err != nil {
		r.log.WithFields(logrus.Fields{"container": containerID, "file": f.Filename()}).Debug("跳过不存在的文件")
		return ticket.Target{}, false
	}
	return ticket.Target{
		Path:    path,
		ArcPath: prefix + "/" + f.Filename(),
		Size:    f.Size,
	}, true
}

// storagePath <data_path>/<id 后三位>/<id>/<文件名>
func (r *Resolver) storagePath(containerID, filename string) string {
	shard := containerID
	if len(shard) > idShardWidth {
		shard = shard[len(shard)-idShardWidth:]
	}
	return filepath.Join(r.dataPath, shard, containerID, filename)
}

func (r *Resolver) load(ctx context.Context, level Level, id string) (*node, error) {
	switch level {
	case LevelProject:
		p, err := r.repo.Project(ctx, id)
		if err != nil {
			return nil, err
		}
		return &node{id: p.ID, segment: p.Group + "/" + p.Name, files: p.Files}, nil
	case LevelSession:
		s, err := r.repo.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		return sessionNode(s), nil
	case LevelAcquisition:
		a, err := r.repo.Acquisition(ctx, id)
		if err != nil {
			return nil, err
		}
		return acquisitionNode(a), nil
	}
	return nil, response.Validation("unknown level %q", level)
}

func (r *Resolver) children(ctx context.Context, level Level, parentID string) ([]*node, error) {
	switch level {
	case LevelSession:
		sessions, err := r.repo.Sessions(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out := make([]*node, 0, len(sessions))
		for i := range sessions {
			out = append(out, sessionNode(&sessions[i]))
		}
		return out, nil
	case LevelAcquisition:
		acqs, err := r.repo.Acquisitions(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out := make([]*node, 0, len(acqs))
		for i := range acqs {
			out = append(out, acquisitionNode(&acqs[i]))
		}
		return out, nil
	}
	return nil, errors.Errorf("level %q has no children", level)
}

func sessionNode(s *model.Session) *node {
	return &node{id: s.ID, parent: s.ProjectID, segment: labelOrUntitled(s.Label), files: s.Files}
}

func acquisitionNode(a *model.Acquisition) *node {
	return &node{id: a.ID, parent: a.SessionID, segment: labelOrUntitled(a.Label), files: a.Files}
}

func labelOrUntitled(label string) string {
	if label == "" {
		return untitled
	}
	return label
}
