// Package upload 上传协议
//
// 增量上传分三个阶段：元数据、逐个文件追加、完成。完成时暂存包被转换为
// 压缩交付物并交给入库协作方。另提供一次性上传整个 tar 包的入口。
package upload

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/ingest"
	"terminal-terrace/sdm/internal/staging"
	authsdk "terminal-terrace/sdm/packages/auth-sdk"
	"terminal-terrace/sdm/packages/response"
)

const maxMetadataSize = 1 << 20

// Authorizer 项目权限协作方
type Authorizer interface {
	CanAccessProject(ctx context.Context, uid, group, project string) (bool, error)
}

// Options Service 依赖
type Options struct {
	Store      *staging.Store
	Finalizer  *Finalizer
	Authorizer Authorizer
	Ingester   ingest.Ingester
	ScratchDir string
	Log        logrus.FieldLogger
}

type Service struct {
	store     *staging.Store
	finalizer *Finalizer
	auth      Authorizer
	ingester  ingest.Ingester
	scratch   string
	log       logrus.FieldLogger
}

func NewService(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Service{
		store:     opts.Store,
		finalizer: opts.Finalizer,
		auth:      opts.Authorizer,
		ingester:  opts.Ingester,
		scratch:   opts.ScratchDir,
		log:       opts.Log,
	}
}

// Handle 按 (_id, filename, complete) 分派到对应阶段
func (s *Service) Handle(ctx context.Context, req Request) (*Result, error) {
	switch {
	case req.ID == "" && strings.EqualFold(req.Filename, MetadataFilename):
		id, err := s.begin(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Phase: PhaseMetadata, ID: id}, nil

	case req.ID != "" && req.Filename != "" && !req.Complete:
		if err := requireDigest(req.Digest); err != nil {
			return nil, err
		}
		if err := s.store.Append(ctx, req.ID, req.Filename, req.Body, req.Digest); err != nil {
			return nil, err
		}
		return &Result{Phase: PhaseAppend}, nil

	case req.ID != "" && req.Complete:
		if err := s.finalizer.Complete(ctx, req.ID); err != nil {
			return nil, err
		}
		return &Result{Phase: PhaseComplete}, nil
	}
	return nil, response.Validation("expected _id, filename, and/or complete")
}

// Status 查询暂存中的上传
// 调用方需对元数据中的项目有访问权限，与创建上传时的检查一致
func (s *Service) Status(ctx context.Context, id string, user *authsdk.UserContext) (*staging.Session, error) {
	raw, err := s.store.ReadMember(ctx, id, metadataMember, maxMetadataSize)
	if err != nil {
		return nil, err
	}
	meta, violations := ValidateMetadata(raw)
	if len(violations) > 0 {
		return nil, errors.Errorf("upload %s has invalid metadata: %s", id, violations.Error())
	}
	if err := s.authorize(ctx, user, meta.Overwrite.GroupName, meta.Overwrite.ProjectName); err != nil {
		return nil, err
	}
	return s.store.Stat(ctx, id)
}

// begin 校验元数据与权限后创建暂存包
func (s *Service) begin(ctx context.Context, req Request) (string, error) {
	if err := requireDigest(req.Digest); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxMetadataSize+1))
	if err != nil {
		return "", errors.Wrap(err, "read metadata")
	}
	if len(raw) > maxMetadataSize {
		return "", response.Validation("metadata exceeds %d bytes", maxMetadataSize)
	}

	meta, violations := ValidateMetadata(raw)
	if len(violations) > 0 {
		return "", response.Validation("%s", violations.Error())
	}
	if err := s.authorize(ctx, req.User, meta.Overwrite.GroupName, meta.Overwrite.ProjectName); err != nil {
		return "", err
	}

	id, err := s.store.Create(ctx, metadataMember, bytes.NewReader(raw), req.Digest, meta.ArcName())
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"upload_id": id,
		"uid":       req.User.UID(),
		"group":     meta.Overwrite.GroupName,
		"project":   meta.Overwrite.ProjectName,
	}).Info("开始增量上传")
	return id, nil
}

func (s *Service) authorize(ctx context.Context, user *authsdk.UserContext, group, project string) error {
	if user.IsSuperuser() {
		return nil
	}
	ok, err := s.auth.CanAccessProject(ctx, user.UID(), group, project)
	if err != nil {
		return err
	}
	if !ok {
		return response.Permission("no access to project " + group + "/" + project)
	}
	return nil
}

// Upload 一次性上传，内容必须是 tar 包（可 gzip 压缩）
func (s *Service) Upload(ctx context.Context, filename string, body io.Reader, declared string, user *authsdk.UserContext) error {
	if err := requireDigest(declared); err != nil {
		return err
	}
	if filename == "" {
		filename = "upload"
	}
	if err := staging.ValidateName(filename); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(s.scratch, ".tmp")
	if err != nil {
		return errors.Wrap(err, "create scratch dir")
	}
	defer os.RemoveAll(workDir)

	path := filepath.Join(workDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create scratch file")
	}
	size, err := s.store.Digest().Verify(f, body, declared)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close scratch file")
	}
	if err != nil {
		return err
	}

	ok, err := isTarArchive(path)
	if err != nil {
		return err
	}
	if !ok {
		return response.Unsupported("Only tar files are accepted.")
	}

	s.log.WithFields(logrus.Fields{"filename": filename, "size": size, "uid": user.UID()}).Info("收到上传")
	res, err := s.ingester.Insert(ctx, Collection, path, declared)
	if err != nil {
		return err
	}
	return res.Err()
}

func requireDigest(digest string) error {
	if digest == "" {
		return response.Validation(`Request must contain a valid "Content-MD5" header.`)
	}
	return nil
}

// isTarArchive 判断文件是否为 tar 或 gzip 压缩的 tar
func isTarArchive(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrap(err, "open upload")
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return false, nil
		}
		defer gr.Close()
		r = gr
	}
	_, err = tar.NewReader(r).Next()
	return err == nil, nil
}
