package download

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"terminal-terrace/sdm/internal/model/ticket"
	pkgDatabase "terminal-terrace/sdm/packages/database"
	"terminal-terrace/sdm/packages/response"
)

// 票据存储后端
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
)

const (
	// TicketBucket bolt 中保存票据的 bucket
	TicketBucket   = "downloads"
	redisKeyPrefix = "download:ticket:"
)

// TicketRepository 票据只写一次，之后只读
// Create 返回前写入已持久化，随后的 Lookup 一定可见
type TicketRepository interface {
	Create(ctx context.Context, t *ticket.Ticket) (string, error)
	Lookup(ctx context.Context, id string) (*ticket.Ticket, error)
}

func errNoSuchTicket() error {
	return response.NotFoundf("no such ticket")
}

// prepare 分配 id 与创建时间
func prepare(t *ticket.Ticket) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
}

// GormTicketRepository 票据存放在 downloads 表
type GormTicketRepository struct {
	db *gorm.DB
}

func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

func (r *GormTicketRepository) Create(ctx context.Context, t *ticket.Ticket) (string, error) {
	prepare(t)
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return "", errors.Wrap(err, "insert ticket")
	}
	return t.ID, nil
}

func (r *GormTicketRepository) Lookup(ctx context.Context, id string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoSuchTicket()
	}
	if err != nil {
		return nil, errors.Wrap(err, "load ticket")
	}
	return &t, nil
}

// RedisTicketRepository 票据以 JSON 保存，不设置过期时间
type RedisTicketRepository struct {
	redis *pkgDatabase.RedisClient
}

func NewRedisTicketRepository(client *pkgDatabase.RedisClient) *RedisTicketRepository {
	return &RedisTicketRepository{redis: client}
}

func (r *RedisTicketRepository) Create(ctx context.Context, t *ticket.Ticket) (string, error) {
	prepare(t)
	data, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "encode ticket")
	}
	ok, err := r.redis.SetNX(ctx, redisKeyPrefix+t.ID, data, 0).Result()
	if err != nil {
		return "", errors.Wrap(err, "store ticket")
	}
	if !ok {
		return "", errors.Errorf("ticket %s already exists", t.ID)
	}
	return t.ID, nil
}

func (r *RedisTicketRepository) Lookup(ctx context.Context, id string) (*ticket.Ticket, error) {
	data, err := r.redis.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNoSuchTicket()
	}
	if err != nil {
		return nil, errors.Wrap(err, "load ticket")
	}
	var t ticket.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode ticket")
	}
	return &t, nil
}

// BoltTicketRepository 单机部署使用的本地票据存储
type BoltTicketRepository struct {
	db *bolt.DB
}

// NewBoltTicketRepository db 需已包含 TicketBucket
func NewBoltTicketRepository(db *bolt.DB) *BoltTicketRepository {
	return &BoltTicketRepository{db: db}
}

func (r *BoltTicketRepository) Create(_ context.Context, t *ticket.Ticket) (string, error) {
	prepare(t)
	data, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "encode ticket")
	}
	err = r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(TicketBucket))
		if err != nil {
			return err
		}
		if b.Get([]byte(t.ID)) != nil {
			return errors.Errorf("ticket %s already exists", t.ID)
		}
		return b.Put([]byte(t.ID), data)
	})
	if err != nil {
		return "", errors.Wrap(err, "store ticket")
	}
	return t.ID, nil
}

func (r *BoltTicketRepository) Lookup(_ context.Context, id string) (*ticket.Ticket, error) {
	var data []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TicketBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(id)); v != nil {
			// 事务结束后 v 失效
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load ticket")
	}
	if data == nil {
		return nil, errNoSuchTicket()
	}
	var t ticket.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode ticket")
	}
	return &t, nil
}

// Backends 可用的票据存储连接，未启用的为 nil
type Backends struct {
	Postgres *gorm.DB
	Redis    *pkgDatabase.RedisClient
	Bolt     *bolt.DB
}

// NewTicketRepository 按配置选择票据存储
func NewTicketRepository(backend string, b Backends) (TicketRepository, error) {
	switch backend {
	case "", BackendPostgres:
		if b.Postgres == nil {
			return nil, response.Configuration("ticket backend postgres requires a database connection")
		}
		return NewGormTicketRepository(b.Postgres), nil
	case BackendRedis:
		if b.Redis == nil {
			return nil, response.Configuration("ticket backend redis requires redis.enabled")
		}
		return NewRedisTicketRepository(b.Redis), nil
	case BackendBolt:
		if b.Bolt == nil {
			return nil, response.Configuration("ticket backend bolt requires download.bolt_path")
		}
		return NewBoltTicketRepository(b.Bolt), nil
	}
	return nil, response.Configuration("unknown ticket backend %q", backend)
}
