package presence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis shares the token mapping across nodes.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

func (s *Redis) Set(ctx context.Context, token, userID string) error {
	return s.client.Set(ctx, token, userID, 0).Err()
}

func (s *Redis) Get(ctx context.Context, token string) (string, error) {
	v, err := s.client.Get(ctx, token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *Redis) Del(ctx context.Context, token string) error {
	return s.client.Del(ctx, token).Err()
}

func (s *Redis) Close() error { return s.client.Close() }
