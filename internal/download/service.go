// Package download 批量下载
//
// 预检阶段把容器选择解析为目标列表并保存为票据，抓取阶段凭票据流式输出。
// 两个阶段之间不共享任何内存状态，票据可以在另一个实例上被消费。
package download

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/model/ticket"
)

// Options Service 依赖
type Options struct {
	Resolver *Resolver
	Tickets  TicketRepository
	// URLBase 票据链接的站点前缀，为空时使用请求的 scheme 与 host
	URLBase string
	Log     logrus.FieldLogger
	Now     func() time.Time
}

type Service struct {
	resolver *Resolver
	tickets  TicketRepository
	urlBase  string
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Service{
		resolver: opts.Resolver,
		tickets:  opts.Tickets,
		urlBase:  strings.TrimRight(opts.URLBase, "/"),
		log:      opts.Log,
		now:      opts.Now,
	}
}

// Preflight 解析选择并创建批量票据，任何失败都不会留下票据
func (s *Service) Preflight(ctx context.Context, req *PreflightRequest, requestBase string) (*PreflightResponse, error) {
	if err := violationError(ValidatePreflight(req)); err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, req.Nodes, *req.Optional)
	if err != nil {
		return nil, err
	}

	t := &ticket.Ticket{
		Kind:     ticket.KindBatch,
		Targets:  res.Targets,
		Filename: s.archiveName(),
		Size:     res.Size,
	}
	id, err := s.tickets.Create(ctx, t)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"ticket": id, "file_cnt": len(res.Targets), "size": res.Size}).Info("创建下载票据")
	return &PreflightResponse{
		URL:     s.ticketURL(requestBase, t.Filename, id),
		FileCnt: len(res.Targets),
		Size:    res.Size,
	}, nil
}

// PrepareFile 创建单文件票据
func (s *Service) PrepareFile(ctx context.Context, req *FileRequest, requestBase string) (*PreflightResponse, error) {
	if err := violationError(ValidateFileRequest(req)); err != nil {
		return nil, err
	}
	target, err := s.resolver.ResolveFile(ctx, req.Level, req.ID, req.Name)
	if err != nil {
		return nil, err
	}

	t := &ticket.Ticket{
		Kind:     ticket.KindSingle,
		Targets:  []ticket.Target{*target},
		Filename: req.Name,
		Size:     target.Size,
	}
	id, err := s.tickets.Create(ctx, t)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"ticket": id, "file": req.Name}).Info("创建单文件下载票据")
	return &PreflightResponse{
		URL:     s.ticketURL(requestBase, t.Filename, id),
		FileCnt: 1,
		Size:    target.Size,
	}, nil
}

// Ticket 查询票据，不存在返回 404 "no such ticket"
func (s *Service) Ticket(ctx context.Context, id string) (*ticket.Ticket, error) {
	if id == "" {
		return nil, errNoSuchTicket()
	}
	return s.tickets.Lookup(ctx, id)
}

// archiveName sdm_YYYYMMDD_HHMMSS.zip（UTC）
func (s *Service) archiveName() string {
	return "sdm_" + s.now().UTC().Format("20060102_150405") + ".zip"
}

func (s *Service) ticketURL(requestBase, filename, id string) string {
	base := s.urlBase
	if base == "" {
		base = strings.TrimRight(requestBase, "/")
	}
	return base + "/api/download/" + url.PathEscape(filename) + "?ticket=" + url.QueryEscape(id)
}
