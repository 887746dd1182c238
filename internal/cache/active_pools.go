package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// activePoolsKey 活跃池子集合的固定 key
const activePoolsKey = "monitor:active_pools"

const opTimeout = 3 * time.Second

// ActivePoolStore 把受监控池子地址列表持久化到 Redis，
// 进程重启后恢复订阅范围。
type ActivePoolStore struct {
	rdb *redis.Client
}

func NewActivePoolStore(rdb *redis.Client) *ActivePoolStore {
	return &ActivePoolStore{rdb: rdb}
}

// Load 读取持久化的地址列表，key 不存在返回空列表。
func (s *ActivePoolStore) Load(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	addrs, err := s.rdb.SMembers(opCtx, activePoolsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return addrs, nil
}

// Save 整体覆写集合（DEL + SADD，事务管道），与注册表的替换式更新语义一致。
func (s *ActivePoolStore) Save(ctx context.Context, addresses []string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.rdb.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Del(opCtx, activePoolsKey)
		if len(addresses) > 0 {
			members := make([]any, len(addresses))
			for i, a := range addresses {
				members[i] = a
			}
			pipe.SAdd(opCtx, activePoolsKey, members...)
		}
		return nil
	})
	return err
}
