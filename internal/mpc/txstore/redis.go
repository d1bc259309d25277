package txstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "chainsig:tx:"

// ErrNotFound 记录不存在或已过期
var ErrNotFound = errors.New("transaction not found")

// Record 待签名交易记录
type Record struct {
	ID    string `json:"id"`
	Chain string `json:"chain"`
	// Transaction 适配器 SerializeTransaction 的输出
	Transaction  string    `json:"transaction"`
	HashesToSign []string  `json:"hashesToSign"`
	Predecessor  string    `json:"predecessor,omitempty"`
	Path         string    `json:"path,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Hashes 解码待签名哈希
func (r *Record) Hashes() ([][]byte, error) {
	hashes := make([][]byte, len(r.HashesToSign))
	for i, h := range r.HashesToSign {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid hash %d", i)
		}
		hashes[i] = b
	}
	return hashes, nil
}

// Store 待签名交易存储
type Store interface {
	Save(ctx context.Context, record *Record, ttl time.Duration) (string, error)
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore Redis 存储实现
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save 保存记录，ID 为空时生成 UUID
func (s *RedisStore) Save(ctx context.Context, record *Record, ttl time.Duration) (string, error) {
	if record == nil {
		return "", errors.New("record is nil")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal record")
	}

	if err := s.client.Set(ctx, keyPrefix+record.ID, data, ttl).Err(); err != nil {
		return "", errors.Wrap(err, "failed to save record")
	}

	log.Debug().Str("id", record.ID).Str("chain", record.Chain).Dur("ttl", ttl).Msg("Saved pending transaction")
	return record.ID, nil
}

// Load 读取记录
func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(ErrNotFound, "id %s", id)
		}
		return nil, errors.Wrap(err, "failed to load record")
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal record")
	}
	return &record, nil
}

// Delete 删除记录，不存在时不报错
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return errors.Wrap(err, "failed to delete record")
	}
	return nil
}

// Serializer 适配器的序列化能力
type Serializer[T any] interface {
	SerializeTransaction(tx T) (string, error)
	DeserializeTransaction(serialized string) (T, error)
}

// SavePrepared 序列化并保存已准备的交易
func SavePrepared[T any](ctx context.Context, store Store, serializer Serializer[T], chainName string, prepared *chain.Prepared[T], ttl time.Duration) (string, error) {
	if prepared == nil {
		return "", errors.New("prepared transaction is nil")
	}
	serialized, err := serializer.SerializeTransaction(prepared.Transaction)
	if err != nil {
		return "", err
	}

	hashes := make([]string, len(prepared.HashesToSign))
	for i, h := range prepared.HashesToSign {
		hashes[i] = hex.EncodeToString(h)
	}

	return store.Save(ctx, &Record{
		Chain:        chainName,
		Transaction:  serialized,
		HashesToSign: hashes,
	}, ttl)
}

// LoadPrepared 读取并反序列化交易
func LoadPrepared[T any](ctx context.Context, store Store, serializer Serializer[T], chainName, id string) (*chain.Prepared[T], error) {
	record, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Chain != chainName {
		return nil, errors.Errorf("record %s belongs to chain %q, not %q", id, record.Chain, chainName)
	}

	tx, err := serializer.DeserializeTransaction(record.Transaction)
	if err != nil {
		return nil, err
	}
	hashes, err := record.Hashes()
	if err != nil {
		return nil, err
	}
	return &chain.Prepared[T]{Transaction: tx, HashesToSign: hashes}, nil
}
