package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// KeyPrefix is prepended to the namespace to form the redis hash key
const KeyPrefix = "nvs:"

// RedisStore keeps every namespace in a redis hash
type RedisStore struct {
	db  *redis.Client
	ctx context.Context
}

// NewRedisStore connects to the redis server at address and checks that it
// answers
func NewRedisStore(address, password string, db int) (*RedisStore, error) {
	s := &RedisStore{
		db:  redis.NewClient(&redis.Options{Addr: address, Password: password, DB: db}),
		ctx: context.Background(),
	}
	if err := s.db.Ping(s.ctx).Err(); err != nil {
		s.db.Close()
		return nil, err
	}
	log.Infof("Store connected to redis at %v", address)
	return s, nil
}

func (s *RedisStore) Open(namespace string) (Handle, error) {
	return newHandle(s, namespace), nil
}

func (s *RedisStore) get(ns, key string) (int64, error) {
	v, err := s.db.HGet(s.ctx, KeyPrefix+ns, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) commit(ns string, staged map[string]int64) error {
	values := make([]interface{}, 0, 2*len(staged))
	for k, v := range staged {
		values = append(values, k, v)
	}
	_, err := s.db.TxPipelined(s.ctx, func(p redis.Pipeliner) error {
		p.HSet(s.ctx, KeyPrefix+ns, values...)
		return nil
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.db.Close()
}
