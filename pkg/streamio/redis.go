package streamio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func init() {
	mustRegisterSink(func(p Params) (OutputSink, error) {
		s, err := NewRedisSink(p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "redis")
}

// RedisSink publishes every write as JSON on a pub/sub channel.
type RedisSink struct {
	opts         *redis.Options
	channel      string
	attempts     int
	writeTimeout time.Duration
	session      string

	mu     sync.Mutex
	client *redis.Client
}

func NewRedisSink(params Params) (*RedisSink, error) {
	addr, err := params.String("addr", "localhost:6379")
	if err != nil {
		return nil, err
	}
	if addr == "" {
		return nil, fmt.Errorf("%w addr: cannot be empty", ErrBadParam)
	}
	password, err := params.String("password", "")
	if err != nil {
		return nil, err
	}
	db, err := params.Int("db", 0)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, fmt.Errorf("%w db: must be non-negative", ErrBadParam)
	}
	channel, err := params.String("channel", "canman:messages")
	if err != nil {
		return nil, err
	}
	attempts, err := params.Int("connect_attempts", 3)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := params.Duration("dial_timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := params.Duration("write_timeout", 3*time.Second)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		attempts = 1
	}
	return &RedisSink{
		opts: &redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  dialTimeout,
			WriteTimeout: writeTimeout,
		},
		channel:      channel,
		attempts:     attempts,
		writeTimeout: writeTimeout,
		session:      uuid.NewString(),
	}, nil
}

func (s *RedisSink) Channel() string {
	return s.channel
}

// Initialize connects and pings the server, retrying a few times since the
// sink often starts alongside the server it talks to.
func (s *RedisSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	client := redis.NewClient(s.opts)
	err := retry.Do(func() error {
		return client.Ping(ctx).Err()
	},
		retry.Context(ctx),
		retry.Attempts(uint(s.attempts)),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("redis sink connect failed, retrying", "addr", s.opts.Addr, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("redis sink: connect %s: %w", s.opts.Addr, err)
	}
	s.client = client
	slog.Debug("redis sink initialized", "addr", s.opts.Addr, "channel", s.channel, "session", s.session)
	return nil
}

func (s *RedisSink) Write(v any) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	for _, r := range records(s.session, time.Now(), v) {
		payload, err := r.payload()
		if err != nil {
			return err
		}
		if err := client.Publish(ctx, s.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis sink: publish: %w", err)
		}
	}
	return nil
}

func (s *RedisSink) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
