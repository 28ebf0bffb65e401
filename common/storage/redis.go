package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultRedisHost     = "127.0.0.1"
	DefaultRedisPort     = 6379
	DefaultRedisDatabase = 0

	defaultConnectTimeout = time.Second * 10
)

// RedisOptions are the connection parameters of a RedisStore. They double as command-line options.
type RedisOptions struct {
	Host     string `name:"redis_host" description:"Hostname or IP address of the Redis server that holds the queues." yaml:"redis_host" json:"redis_host"`
	Port     int    `name:"redis_port" description:"Port of the Redis server." yaml:"redis_port" json:"redis_port"`
	Username string `name:"redis_username" description:"Username for Redis ACL authentication. Optional." yaml:"redis_username" json:"redis_username"`
	Password string `name:"redis_password" description:"Password of the Redis server. Optional." yaml:"redis_password" json:"-"`
	Database int    `name:"redis_database" description:"Redis database number." yaml:"redis_database" json:"redis_database"`
}

// Addr returns the "host:port" address of the Redis server.
func (o RedisOptions) Addr() string {
	host := o.Host
	if host == "" {
		host = DefaultRedisHost
	}

	port := o.Port
	if port <= 0 {
		port = DefaultRedisPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RedisStore implements the ListStore API on top of Redis lists.
type RedisStore struct {
	*baseStore

	opts        RedisOptions
	redisClient *redis.Client
}

func NewRedisStore(opts RedisOptions, atom *zap.AtomicLevel) *RedisStore {
	return &RedisStore{
		baseStore: newBaseStore(atom),
		opts:      opts,
	}
}

// NewRedisStoreWithClient wraps an already-configured client. The store is considered connected.
func NewRedisStoreWithClient(client *redis.Client, atom *zap.AtomicLevel) *RedisStore {
	store := &RedisStore{
		baseStore:   newBaseStore(atom),
		redisClient: client,
	}
	store.status = Connected

	return store
}

// Connect creates the Redis client and verifies the address and credentials with a PING.
//
// Connect returns an error wrapping ErrStoreUnavailable if the server cannot be reached or rejects the credentials.
func (s *RedisStore) Connect(ctx context.Context) error {
	s.status = Connecting

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:     s.opts.Addr(),
		Username: s.opts.Username,
		Password: s.opts.Password,
		DB:       s.opts.Database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := s.redisClient.Ping(pingCtx).Err(); err != nil {
		s.logger.Error("Failed to connect to Redis.",
			zap.String("address", s.opts.Addr()),
			zap.String("username", s.opts.Username),
			zap.Int("database", s.opts.Database),
			zap.Error(err))

		_ = s.redisClient.Close()
		s.redisClient = nil
		s.status = Disconnected

		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, s.opts.Addr(), err)
	}

	s.logger.Debug("Connected to Redis.",
		zap.String("address", s.opts.Addr()),
		zap.Int("database", s.opts.Database))

	s.status = Connected

	return nil
}

func (s *RedisStore) Close() error {
	if s.redisClient == nil {
		return nil
	}

	s.status = Disconnected
	return s.redisClient.Close()
}

func (s *RedisStore) client() (*redis.Client, error) {
	if s.redisClient == nil {
		return nil, ErrNotConnected
	}

	return s.redisClient, nil
}

func (s *RedisStore) PushTail(ctx context.Context, key string, value string) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	if err = client.RPush(ctx, key, value).Err(); err != nil {
		s.logger.Error("Failed to push element onto tail of list.", zap.String("redis_key", key), zap.Error(err))
		return err
	}

	return nil
}

func (s *RedisStore) PushHead(ctx context.Context, key string, value string) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	if err = client.LPush(ctx, key, value).Err(); err != nil {
		s.logger.Error("Failed to push element onto head of list.", zap.String("redis_key", key), zap.Error(err))
		return err
	}

	return nil
}

func (s *RedisStore) PopHead(ctx context.Context, key string) (string, bool, error) {
	client, err := s.client()
	if err != nil {
		return "", false, err
	}

	value, err := client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		s.logger.Error("Failed to pop head of list.", zap.String("redis_key", key), zap.Error(err))
		return "", false, err
	}

	return value, true, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string, value string) (bool, error) {
	client, err := s.client()
	if err != nil {
		return false, err
	}

	removed, err := client.LRem(ctx, key, 1, value).Result()
	if err != nil {
		s.logger.Error("Failed to remove element from list.", zap.String("redis_key", key), zap.Error(err))
		return false, err
	}

	return removed > 0, nil
}

func (s *RedisStore) Range(ctx context.Context, key string, start int64, stop int64) ([]string, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	values, err := client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		s.logger.Error("Failed to read range of list.",
			zap.String("redis_key", key),
			zap.Int64("start", start),
			zap.Int64("stop", stop),
			zap.Error(err))
		return nil, err
	}

	return values, nil
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	client, err := s.client()
	if err != nil {
		return 0, err
	}

	return client.LLen(ctx, key).Result()
}
